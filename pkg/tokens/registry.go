// Package tokens resolves token symbols to on-chain assets from a YAML
// token list.
package tokens

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
)

// Token is one token list entry: an asset bound to the chain it lives on
type Token struct {
	Chain       string `yaml:"chain"`
	asset.Asset `yaml:",inline"`
}

type tokenList struct {
	Tokens []Token `yaml:"tokens"`
}

// Registry is an immutable symbol index over a loaded token list
type Registry struct {
	byKey map[string]asset.Asset
}

// New indexes the given tokens by (chain, symbol)
func New(entries []Token) (*Registry, error) {
	r := &Registry{byKey: make(map[string]asset.Asset, len(entries))}
	for _, t := range entries {
		if t.Chain == "" || t.Symbol == "" {
			return nil, errors.Configuration(nil, "token list entry without chain or symbol")
		}
		key := tokenKey(t.Chain, t.Symbol)
		if _, dup := r.byKey[key]; dup {
			return nil, errors.Configuration(nil, fmt.Sprintf("duplicate token %s on chain %s", t.Symbol, t.Chain))
		}
		r.byKey[key] = t.Asset
	}
	return r, nil
}

// Load reads a token list file and indexes it by (chain, symbol)
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token list: %w", err)
	}

	var list tokenList
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to parse token list: %w", err)
	}
	return New(list.Tokens)
}

// Resolve looks a symbol up on the given chain
func (r *Registry) Resolve(chain, symbol string) (asset.Asset, error) {
	a, ok := r.byKey[tokenKey(chain, symbol)]
	if !ok {
		return asset.Asset{}, errors.UnsupportedChainPair(fmt.Sprintf("token %s is not supported on chain %s", symbol, chain))
	}
	return a, nil
}

// Len reports the number of indexed tokens
func (r *Registry) Len() int {
	return len(r.byKey)
}

func tokenKey(chain, symbol string) string {
	return strings.ToLower(chain) + "|" + strings.ToUpper(symbol)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Strategy computes an evidence statistic from every response payload of a
// study, oldest first.
type Strategy interface {
	Compute(responses []json.RawMessage, params map[string]any) (float64, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(responses []json.RawMessage, params map[string]any) (float64, error)

// Compute implements Strategy.
func (f StrategyFunc) Compute(responses []json.RawMessage, params map[string]any) (float64, error) {
	return f(responses, params)
}

// Built-in strategy names.
const (
	StrategyPlaceholder = "placeholder"
	StrategyBinomial    = "binomial"
)

// Registry maps strategy names to implementations. Studies select a
// strategy by name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: map[string]Strategy{}}
	r.MustRegister(StrategyPlaceholder, StrategyFunc(Placeholder))
	r.MustRegister(StrategyBinomial, StrategyFunc(Binomial))
	return r
}

// Register adds a strategy. Names are unique.
func (r *Registry) Register(name string, s Strategy) error {
	if name == "" || s == nil {
		return errors.New("strategy needs a name and an implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[name]; ok {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, s Strategy) {
	if err := r.Register(name, s); err != nil {
		panic(err)
	}
}

// Lookup returns the named strategy.
func (r *Registry) Lookup(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names lists registered strategies in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Placeholder is a stand-in Bayes factor that grows with the sample size:
// 0.5 up to 20 responses, then 3, 8, and 12 from 30 and 40 responses.
func Placeholder(responses []json.RawMessage, _ map[string]any) (float64, error) {
	n := len(responses)
	switch {
	case n <= 20:
		return 0.5, nil
	case n < 30:
		return 3.0, nil
	case n < 40:
		return 8.0, nil
	}
	return 12.0, nil
}

// Binomial returns the Bayes factor BF10 for a Bernoulli outcome: a uniform
// prior on the success rate against the point null p = p0.
//
// Params: "field" names the outcome key in each payload (default
// "outcome"); "p0" is the null rate (default 0.5). Outcomes may be
// booleans, 0/1 numbers, or the strings "true", "false", "1", "0".
// Payloads without a usable outcome are skipped.
func Binomial(responses []json.RawMessage, params map[string]any) (float64, error) {
	field := "outcome"
	if v, ok := params["field"].(string); ok && v != "" {
		field = v
	}
	p0 := 0.5
	if v, ok := params["p0"]; ok {
		f, ok := toFloat(v)
		if !ok || f <= 0 || f >= 1 {
			return 0, fmt.Errorf("binomial: p0 must be in (0, 1), got %v", v)
		}
		p0 = f
	}

	var n, k float64
	for _, raw := range responses {
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		success, ok := outcome(payload[field])
		if !ok {
			continue
		}
		n++
		if success {
			k++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("binomial: no responses carry outcome field %q", field)
	}

	// log of the marginal likelihood under H1: Beta(k+1, n-k+1).
	a, _ := math.Lgamma(k + 1)
	b, _ := math.Lgamma(n - k + 1)
	c, _ := math.Lgamma(n + 2)
	logH1 := a + b - c
	logH0 := k*math.Log(p0) + (n-k)*math.Log(1-p0)
	return math.Exp(logH1 - logH0), nil
}

func outcome(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		if x == 0 || x == 1 {
			return x == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// MatchesFilters reports whether a raw JSON document satisfies every filter.
// Used by the memory and Redis stores, which evaluate queries client-side.
func MatchesFilters(raw []byte, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, err
	}
	for _, f := range filters {
		fieldVal, ok := doc[f.Field]
		if !ok {
			return false, nil
		}
		match, err := matchOne(fieldVal, f)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func matchOne(fieldVal any, f Filter) (bool, error) {
	want, err := normalize(f.Value)
	if err != nil {
		return false, err
	}
	switch f.Op {
	case OpEq:
		return reflect.DeepEqual(fieldVal, want), nil
	case OpContains:
		arr, ok := fieldVal.([]any)
		if !ok {
			return false, nil
		}
		for _, el := range arr {
			if reflect.DeepEqual(el, want) {
				return true, nil
			}
		}
		return false, nil
	case OpGt, OpLt:
		return compareOrdered(fieldVal, want, f.Op)
	default:
		return false, fmt.Errorf("store: unknown filter op %q", f.Op)
	}
}

// normalize round-trips a filter value through JSON so it takes the same
// shape (string / float64 / []any) as decoded document fields.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func compareOrdered(fieldVal, want any, op Op) (bool, error) {
	// Timestamps decode as RFC3339 strings; compare as times so mixed
	// zone offsets still order correctly.
	fs, fok := fieldVal.(string)
	ws, wok := want.(string)
	if fok && wok {
		ft, ferr := time.Parse(time.RFC3339Nano, fs)
		wt, werr := time.Parse(time.RFC3339Nano, ws)
		if ferr == nil && werr == nil {
			if op == OpGt {
				return ft.After(wt), nil
			}
			return ft.Before(wt), nil
		}
		if op == OpGt {
			return fs > ws, nil
		}
		return fs < ws, nil
	}
	ff, fok := fieldVal.(float64)
	wf, wok := want.(float64)
	if fok && wok {
		if op == OpGt {
			return ff > wf, nil
		}
		return ff < wf, nil
	}
	return false, fmt.Errorf("store: cannot order-compare %T against %T", fieldVal, want)
}

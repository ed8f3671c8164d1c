package lang

import (
	"errors"

	"github.com/lab47/exprcore/exprcore"
)

var (
	ErrNotString = errors.New("value not a string")
	ErrNotFunc   = errors.New("value not a function")
	ErrNotList   = errors.New("value not a list")
	ErrNotDict   = errors.New("value not a dict")
)

// missing reports whether the attr lookup failed only because the
// attribute does not exist, which callers treat as a zero value.
func missing(err error) bool {
	_, ok := err.(exprcore.NoSuchAttrError)
	return ok
}

func StringValue(v exprcore.Value, err error) (string, error) {
	if err != nil {
		if missing(err) {
			return "", nil
		}
		return "", err
	}

	if v == nil {
		return "", nil
	}

	str, ok := v.(exprcore.String)
	if !ok {
		return "", ErrNotString
	}

	return string(str), nil
}

func FuncValue(v exprcore.Value, err error) (*exprcore.Function, error) {
	if err != nil {
		if missing(err) {
			return nil, nil
		}
		return nil, err
	}

	if v == nil {
		return nil, nil
	}

	fn, ok := v.(*exprcore.Function)
	if !ok {
		return nil, ErrNotFunc
	}

	return fn, nil
}

func ListValue(v exprcore.Value, err error) (*exprcore.List, error) {
	if err != nil {
		if missing(err) {
			return nil, nil
		}
		return nil, err
	}

	if v == nil {
		return nil, nil
	}

	list, ok := v.(*exprcore.List)
	if !ok {
		return nil, ErrNotList
	}

	return list, nil
}

func DictValue(v exprcore.Value, err error) (*exprcore.Dict, error) {
	if err != nil {
		if missing(err) {
			return nil, nil
		}
		return nil, err
	}

	if v == nil {
		return nil, nil
	}

	dict, ok := v.(*exprcore.Dict)
	if !ok {
		return nil, ErrNotDict
	}

	return dict, nil
}

// StringsValue coerces a list attribute into a []string, rejecting
// any element that is not a string.
func StringsValue(v exprcore.Value, err error) ([]string, error) {
	list, err := ListValue(v, err)
	if err != nil || list == nil {
		return nil, err
	}

	var out []string

	iter := list.Iterate()
	defer iter.Done()

	var ele exprcore.Value
	for iter.Next(&ele) {
		str, ok := ele.(exprcore.String)
		if !ok {
			return nil, ErrNotString
		}

		out = append(out, string(str))
	}

	return out, nil
}

package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidArguments = errors.New("invalid arguments")

// InvalidArgumentsError is returned by Coerce and by handlers that reject
// their input. Dispatch answers it with the command's usage.
type InvalidArgumentsError struct {
	Param  string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	if e.Param == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Param, e.Reason)
}

func (e *InvalidArgumentsError) Is(target error) bool {
	return target == ErrInvalidArguments
}

func InvalidArguments(reason string) error {
	return &InvalidArgumentsError{Reason: reason}
}

// Caster converts one token into a typed value.
type Caster interface {
	Cast(arg string) (any, error)
}

// Defaulter supplies the value of an omitted optional parameter.
type Defaulter interface {
	Default() any
}

type CasterFunc func(arg string) (any, error)

func (f CasterFunc) Cast(arg string) (any, error) { return f(arg) }

var (
	String Caster = CasterFunc(castString)
	Int    Caster = CasterFunc(castInt)
	Float  Caster = CasterFunc(castFloat)
	Bool   Caster = CasterFunc(castBool)
	// User strips a leading @ and lowercases.
	User Caster = CasterFunc(castUser)
)

func castString(arg string) (any, error) { return arg, nil }

func castInt(arg string) (any, error) { return strconv.Atoi(arg) }

func castFloat(arg string) (any, error) { return strconv.ParseFloat(arg, 64) }

func castBool(arg string) (any, error) {
	switch strings.ToLower(arg) {
	case "on", "yes", "enable", "enabled":
		return true, nil
	case "off", "no", "disable", "disabled":
		return false, nil
	}
	return strconv.ParseBool(arg)
}

func castUser(arg string) (any, error) {
	login := strings.ToLower(strings.TrimPrefix(arg, "@"))
	if login == "" {
		return nil, errors.New("empty user")
	}
	return login, nil
}

// Param declares one positional argument.
type Param struct {
	Name string
	// Type defaults to String.
	Type     Caster
	Optional bool
	Default  any
	// Variadic takes every remaining token; only valid on the last param.
	Variadic bool
}

func (p Param) caster() Caster {
	if p.Type == nil {
		return String
	}
	return p.Type
}

func (p Param) defaultValue() any {
	if p.Default != nil {
		return p.Default
	}
	if d, ok := p.Type.(Defaulter); ok {
		return d.Default()
	}
	return nil
}

// Required counts the parameters that must be supplied.
func Required(params []Param) int {
	n := 0
	for _, p := range params {
		if !p.Optional && !p.Variadic {
			n++
		}
	}
	return n
}

// Coerce casts args against params. Fewer tokens than required parameters,
// or a token the caster rejects, yields an InvalidArgumentsError.
func Coerce(params []Param, args []string) ([]any, error) {
	values := make([]any, 0, len(params))
	for i, p := range params {
		if p.Variadic {
			rest := []any{}
			if i < len(args) {
				for _, a := range args[i:] {
					v, err := p.caster().Cast(a)
					if err != nil {
						return nil, &InvalidArgumentsError{Param: p.Name, Reason: err.Error()}
					}
					rest = append(rest, v)
				}
			}
			if len(rest) == 0 && !p.Optional {
				return nil, &InvalidArgumentsError{Param: p.Name, Reason: "missing"}
			}
			values = append(values, rest)
			break
		}

		if i >= len(args) {
			if !p.Optional {
				return nil, &InvalidArgumentsError{Param: p.Name, Reason: "missing"}
			}
			values = append(values, p.defaultValue())
			continue
		}

		v, err := p.caster().Cast(args[i])
		if err != nil {
			return nil, &InvalidArgumentsError{Param: p.Name, Reason: fmt.Sprintf("%q is not valid", args[i])}
		}
		values = append(values, v)
	}
	return values, nil
}

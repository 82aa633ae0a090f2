package common

import "fmt"

func PanicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func Ternary[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// OneOf tells whether x equals any of arr.
func OneOf[T comparable](x T, arr ...T) bool {
	for _, item := range arr {
		if item == x {
			return true
		}
	}
	return false
}

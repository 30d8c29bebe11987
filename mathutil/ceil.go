package mathutil

import (
	"golang.org/x/exp/constraints"
)

func DivCeil[T constraints.Signed](a, b T) T {
	if b == 0 {
		panic("division by zero")
	}
	q, r := a/b, a%b
	sameSign := (a >= 0 && b > 0) || (a <= 0 && b < 0)
	if r != 0 && sameSign {
		q++
	}
	return q
}

// PageCount is the number of pages of size pageSize needed to hold total items.
func PageCount[T constraints.Signed](total, pageSize T) T {
	if total <= 0 {
		return 0
	}

	return DivCeil(total, pageSize)
}

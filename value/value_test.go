// Copyright (C) 2024 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package value

import (
	"math"
	"testing"
)

func TestCrossTypeOrder(t *testing.T) {
	ordered := []Value{
		NewNull(),
		NewBool(false),
		NewInt(-100),
		NewNumber(-1.5),
		NewString(""),
	}
	for i := 0; i < len(ordered)-1; i++ {
		if Compare(ordered[i], ordered[i+1]) >= 0 {
			t.Fatalf("expected ordered[%d] < ordered[%d], got Compare=%d", i, i+1, Compare(ordered[i], ordered[i+1]))
		}
	}
}

func TestIntOrder(t *testing.T) {
	cases := []struct{ a, b int64 }{
		{-5, 5},
		{math.MinInt64, math.MaxInt64},
		{0, 1},
		{-1, 0},
	}
	for _, c := range cases {
		if Compare(NewInt(c.a), NewInt(c.b)) >= 0 {
			t.Errorf("expected %d < %d", c.a, c.b)
		}
	}
}

func TestNumberOrderAndNaN(t *testing.T) {
	nan := NewNumber(math.NaN())
	posInf := NewNumber(math.Inf(1))
	negInf := NewNumber(math.Inf(-1))
	zero := NewNumber(0)

	if Compare(negInf, zero) >= 0 {
		t.Error("expected -Inf < 0")
	}
	if Compare(zero, posInf) >= 0 {
		t.Error("expected 0 < +Inf")
	}
	if Compare(posInf, nan) >= 0 {
		t.Error("expected +Inf < NaN")
	}
	if Compare(nan, nan) != 0 {
		t.Error("expected NaN == NaN under Compare")
	}
	if !nan.Equal(NewNumber(math.NaN())) {
		t.Error("expected NaN.Equal(NaN) to be true")
	}
}

func TestStringOrder(t *testing.T) {
	if Compare(NewString("a"), NewString("b")) >= 0 {
		t.Error("expected \"a\" < \"b\"")
	}
	if Compare(NewString("abc"), NewString("abc")) != 0 {
		t.Error("expected equal strings to compare equal")
	}
}

func TestEqual(t *testing.T) {
	if !NewInt(5).Equal(NewInt(5)) {
		t.Error("expected 5 == 5")
	}
	if NewInt(5).Equal(NewNumber(5)) {
		t.Error("expected int(5) != number(5), different kinds")
	}
}

func TestLess(t *testing.T) {
	if !Less(NewInt(1), NewInt(2)) {
		t.Error("expected Less(1,2)")
	}
	if Less(NewInt(2), NewInt(1)) {
		t.Error("expected !Less(2,1)")
	}
}

func TestBoolOrder(t *testing.T) {
	if Compare(NewBool(false), NewBool(true)) >= 0 {
		t.Error("expected false < true")
	}
}

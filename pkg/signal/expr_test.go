package signal

import (
	"errors"
	"math"
	"testing"
)

func TestCompile_Evaluates(t *testing.T) {
	tests := []struct {
		src  string
		t    float64
		want float64
	}{
		{"t", 3, 3},
		{"2*t + 1", 2, 5},
		{"-t", 4, -4},
		{"+t", 4, 4},
		{"(1 + 2) * (t - 1)", 3, 6},
		{"10 / 4", 0, 2.5},
		{"sin(pi/2)", 0, 1},
		{"cos(0)", 0, 1},
		{"exp(1)", 0, math.E},
		{"log(e)", 0, 1},
		{"sqrt(t)", 16, 4},
		{"abs(sin(2*pi*1.2*t)) * (1 + 0.3*sin(2*pi*0.2*t))", 0, 0},
		{"tan(0)", 0, 0},
		{"1e-3 * t", 1000, 1},
	}

	for _, tt := range tests {
		e, err := Compile(tt.src)
		if err != nil {
			t.Errorf("Compile(%q) failed: %v", tt.src, err)
			continue
		}
		got, err := e.Eval(tt.t)
		if err != nil {
			t.Errorf("Eval(%q) failed: %v", tt.src, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%q at t=%v = %v; want %v", tt.src, tt.t, got, tt.want)
		}
	}
}

func TestCompile_Rejects(t *testing.T) {
	bad := []string{
		"",
		"x + 1",
		"t % 2",
		"2 ** t",
		"pow(t, 2)",
		"sin(t, 1)",
		"math.Sin(t)",
		`"text"`,
		"t[0]",
		"func() {}",
		"os.Exit(1)",
		"1 +",
	}
	for _, src := range bad {
		if _, err := Compile(src); !errors.Is(err, ErrExpression) {
			t.Errorf("Compile(%q) error = %v; want ErrExpression", src, err)
		}
	}
}

func TestCompile_FoldsConstants(t *testing.T) {
	if e := MustCompile("2*pi*5"); !e.IsConstant() {
		t.Error("expected 2*pi*5 to fold to a constant")
	}
	if e := MustCompile("-(3 + sqrt(16))"); !e.IsConstant() {
		t.Error("expected -(3 + sqrt(16)) to fold to a constant")
	}
	if e := MustCompile("2*pi*5*t"); e.IsConstant() {
		t.Error("expression over t must not fold to a constant")
	}
}

func TestExpression_NonFiniteIsError(t *testing.T) {
	e := MustCompile("1/(t - 2)")
	if _, err := e.Eval(2); !errors.Is(err, ErrExpression) {
		t.Errorf("expected ErrExpression at pole, got %v", err)
	}
	if _, err := e.Eval(3); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

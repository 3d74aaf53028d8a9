package gcode

import (
	"testing"
)

func TestParseBasicBlocks(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input  string
		gWords []float64
		mWords []float64
		values map[byte]float64
	}{
		{
			input:  "G0 X10 Y20",
			gWords: []float64{0},
			values: map[byte]float64{'X': 10, 'Y': 20},
		},
		{
			input:  "G1 X100.5 Y200.25 F3000",
			gWords: []float64{1},
			values: map[byte]float64{'X': 100.5, 'Y': 200.25, 'F': 3000},
		},
		{
			input:  "G2 X10 Y0 I0 J-5",
			gWords: []float64{2},
			values: map[byte]float64{'X': 10, 'Y': 0, 'I': 0, 'J': -5},
		},
		{
			input:  "G92.1",
			gWords: []float64{92.1},
			values: map[byte]float64{},
		},
		{
			input:  "M3 S12000",
			mWords: []float64{3},
			values: map[byte]float64{'S': 12000},
		},
		{
			input:  "G90 G21 G54",
			gWords: []float64{90, 21, 54},
			values: map[byte]float64{},
		},
	}

	for _, test := range tests {
		blk, err := parser.ParseLine(test.input)
		if err != nil {
			t.Errorf("failed to parse %q: %v", test.input, err)
			continue
		}
		if blk == nil {
			t.Errorf("got nil block for %q", test.input)
			continue
		}
		if len(blk.GWords) != len(test.gWords) {
			t.Errorf("%q: expected %d G words, got %d", test.input, len(test.gWords), len(blk.GWords))
		} else {
			for i, g := range test.gWords {
				if !floatWordEq(blk.GWords[i], g) {
					t.Errorf("%q: G word %d: expected %g, got %g", test.input, i, g, blk.GWords[i])
				}
			}
		}
		if len(blk.MWords) != len(test.mWords) {
			t.Errorf("%q: expected %d M words, got %d", test.input, len(test.mWords), len(blk.MWords))
		}
		for letter, value := range test.values {
			if !blk.Has(letter) {
				t.Errorf("%q: missing parameter %c", test.input, letter)
			} else if blk.Value(letter, 0) != value {
				t.Errorf("%q: expected %c=%g, got %g", test.input, letter, value, blk.Value(letter, 0))
			}
		}
	}
}

func TestParseLineNumbers(t *testing.T) {
	parser := NewParser()
	blk, err := parser.ParseLine("N120 G1 X5 F600")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if !blk.HasLineNum || blk.LineNum != 120 {
		t.Errorf("expected line number 120, got %d (has=%v)", blk.LineNum, blk.HasLineNum)
	}
}

func TestParseBlockDelete(t *testing.T) {
	parser := NewParser()
	blk, err := parser.ParseLine("/G1 X5 F600")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if !blk.BlockDelete {
		t.Errorf("expected block delete flag")
	}
}

func TestParseComments(t *testing.T) {
	parser := NewParser()

	blk, err := parser.ParseLine("G0 X10 ; rapid over")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if blk.Comment != " rapid over" {
		t.Errorf("unexpected comment %q", blk.Comment)
	}

	blk, err = parser.ParseLine("(preamble) G21")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if blk.Comment != "preamble" {
		t.Errorf("unexpected comment %q", blk.Comment)
	}
	if !blk.HasG(21) {
		t.Errorf("G21 lost after comment")
	}
}

func TestParseNegativeAndLowercase(t *testing.T) {
	parser := NewParser()
	blk, err := parser.ParseLine("g1 x-10.5 y-20")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if !blk.HasG(1) {
		t.Errorf("lowercase g1 not recognized")
	}
	if blk.Value('X', 0) != -10.5 {
		t.Errorf("expected X=-10.5, got %g", blk.Value('X', 0))
	}
	if blk.Value('Y', 0) != -20 {
		t.Errorf("expected Y=-20, got %g", blk.Value('Y', 0))
	}
}

func TestParseEmptyAndBad(t *testing.T) {
	parser := NewParser()

	blk, err := parser.ParseLine("")
	if err != nil || blk != nil {
		t.Errorf("empty line: expected nil, nil; got %v, %v", blk, err)
	}

	blk, err = parser.ParseLine("   ")
	if err != nil || blk != nil {
		t.Errorf("blank line: expected nil, nil; got %v, %v", blk, err)
	}

	if _, err = parser.ParseLine("G"); err == nil {
		t.Errorf("bare letter should be a parse error")
	}
	if _, err = parser.ParseLine("(unclosed"); err == nil {
		t.Errorf("unclosed comment should be a parse error")
	}
}

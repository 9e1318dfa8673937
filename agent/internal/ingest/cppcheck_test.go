package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/defecttrend/defecttrend/pkg/types"
)

const cppcheckV2 = `<?xml version="1.0" encoding="UTF-8"?>
<results version="2">
    <cppcheck version="2.13.0"/>
    <errors>
        <error id="nullPointer" severity="error" msg="Null pointer dereference" verbose="...">
            <location file="src/main.c" line="12" column="5"/>
        </error>
        <error id="uninitvar" severity="error" msg="Uninitialized variable: x">
            <location file="src/util.c" line="40"/>
        </error>
        <error id="unusedFunction" severity="style" msg="The function 'f' is never used."/>
        <error id="passedByValue" severity="performance" msg="Parameter 's' is passed by value."/>
        <error id="missingInclude" severity="information" msg="Include file not found."/>
        <error id="checkersReport" severity="debug" msg="Active checkers: 120"/>
    </errors>
</results>
`

const cppcheckV1 = `<?xml version="1.0"?>
<results>
    <error file="a.c" line="3" id="arrayIndexOutOfBounds" severity="error" msg="Array index out of bounds"/>
    <error file="a.c" line="9" id="variableScope" severity="style" msg="The scope can be reduced"/>
    <error file="b.c" line="1" id="memleak" severity="warning" msg="Memory leak"/>
    <error file="b.c" line="7" id="int64" severity="portability" msg="Assigning a pointer to an integer"/>
</results>
`

func TestParseCppcheck(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want map[types.Severity]int
	}{
		{
			name: "version 2",
			xml:  cppcheckV2,
			want: map[types.Severity]int{
				types.SeverityError:       2,
				types.SeverityStyle:       1,
				types.SeverityPerformance: 1,
				types.SeverityInformation: 1,
				types.SeverityNoCategory:  1,
			},
		},
		{
			name: "version 1",
			xml:  cppcheckV1,
			want: map[types.Severity]int{
				types.SeverityError:       1,
				types.SeverityStyle:       1,
				types.SeverityWarning:     1,
				types.SeverityPortability: 1,
			},
		},
		{
			name: "no findings",
			xml:  `<results version="2"><cppcheck version="2.13.0"/><errors/></results>`,
			want: map[types.Severity]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseCppcheck(strings.NewReader(tt.xml))
			if err != nil {
				t.Fatalf("ParseCppcheck() error = %v", err)
			}
			for _, sev := range types.Severities {
				if got := snap.Count(sev); got != tt.want[sev] {
					t.Errorf("Count(%s) = %d, want %d", sev, got, tt.want[sev])
				}
			}
		})
	}
}

func TestParseCppcheck_Invalid(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"empty", ""},
		{"wrong root", `<report><error severity="error"/></report>`},
		{"truncated", `<results version="2"><errors><error severity="error"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCppcheck(strings.NewReader(tt.xml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestParseCppcheck_EmptyIsIntegrityError(t *testing.T) {
	_, err := ParseCppcheck(strings.NewReader(""))
	if !errors.Is(err, types.ErrDataIntegrity) {
		t.Errorf("err = %v, want ErrDataIntegrity", err)
	}
}

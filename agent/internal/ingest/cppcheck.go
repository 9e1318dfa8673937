package ingest

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/defecttrend/defecttrend/pkg/types"
)

// cppcheckResults covers both report layouts. Version 2 nests findings under
// <errors>; version 1 lists <error> elements directly under <results>.
type cppcheckResults struct {
	XMLName xml.Name        `xml:"results"`
	Version string          `xml:"version,attr"`
	Errors  []cppcheckError `xml:"errors>error"`
	Legacy  []cppcheckError `xml:"error"`
}

type cppcheckError struct {
	ID       string `xml:"id,attr"`
	Severity string `xml:"severity,attr"`
}

// ParseCppcheck counts the findings of a cppcheck XML report per severity.
// Severities cppcheck reports but this tool does not track ("debug", "none")
// are counted as no-category.
func ParseCppcheck(r io.Reader) (types.Snapshot, error) {
	var res cppcheckResults
	if err := xml.NewDecoder(r).Decode(&res); err != nil {
		if err == io.EOF {
			return types.Snapshot{}, fmt.Errorf("ingest: cppcheck report is empty: %w", types.ErrDataIntegrity)
		}
		return types.Snapshot{}, fmt.Errorf("ingest: decode cppcheck xml: %w", err)
	}

	counts := make(map[types.Severity]int, len(types.Severities))
	for _, list := range [][]cppcheckError{res.Errors, res.Legacy} {
		for _, e := range list {
			counts[types.SeverityFor(e.Severity)]++
		}
	}
	return types.NewSnapshot(counts)
}

package registry

import (
	"strings"
	"time"
)

// RawStudy is the registry's study record, kept as an opaque JSON bag.
// The upstream schema is not stable; only the normalizer reads into it.
type RawStudy map[string]interface{}

// section walks a nested path of JSON objects, returning nil if any hop
// is missing or not an object.
func section(m map[string]interface{}, path ...string) map[string]interface{} {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// NCTID extracts the accession string, empty if absent.
func (s RawStudy) NCTID() string {
	id := section(s, "protocolSection", "identificationModule")
	if id == nil {
		return ""
	}
	nct, _ := id["nctId"].(string)
	return nct
}

// LastUpdatePostDate extracts the registry's last-update stamp, nil when
// absent or malformed.
func (s RawStudy) LastUpdatePostDate() *time.Time {
	status := section(s, "protocolSection", "statusModule", "lastUpdatePostDateStruct")
	if status == nil {
		return nil
	}
	ds, _ := status["date"].(string)
	for _, layout := range []string{"2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, ds); err == nil {
			return &t
		}
	}
	return nil
}

// MatchesFilter applies the client-side inclusion policy. The server-side
// filter surface is unstable, so only the since-date filter runs server side
// and everything richer runs here: interventional study type, at least one
// DRUG or BIOLOGICAL intervention, and at least one Phase 2/3 entry.
func (s RawStudy) MatchesFilter() bool {
	design := section(s, "protocolSection", "designModule")
	if design == nil {
		return false
	}

	studyType, _ := design["studyType"].(string)
	if !strings.HasPrefix(strings.ToUpper(studyType), "INTERVENTIONAL") {
		return false
	}

	if !s.hasDrugOrBiological() {
		return false
	}

	phases, _ := design["phases"].([]interface{})
	for _, p := range phases {
		ps, _ := p.(string)
		switch strings.ToUpper(ps) {
		case "PHASE2", "PHASE3", "PHASE2_PHASE3":
			return true
		}
	}
	return false
}

func (s RawStudy) hasDrugOrBiological() bool {
	arms := section(s, "protocolSection", "armsInterventionsModule")
	if arms == nil {
		return false
	}
	interventions, _ := arms["interventions"].([]interface{})
	for _, iv := range interventions {
		ivm, ok := iv.(map[string]interface{})
		if !ok {
			continue
		}
		t, _ := ivm["type"].(string)
		switch strings.ToUpper(t) {
		case "DRUG", "BIOLOGICAL":
			return true
		}
	}
	return false
}

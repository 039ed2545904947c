package docs

import (
	"context"
	"regexp"
	"strings"

	"github.com/trialgate/trialgate/internal/persistence"
)

// Link heuristic identifiers and their initial confidences.
const (
	HP1NCTNearAsset     = "hp1"
	HP2InterventionHit  = "hp2"
	HP3CompanyHostedPR  = "hp3"
	HP4AbstractSpecific = "hp4"

	hp1Confidence = 1.00
	hp2Confidence = 0.95
	hp3Confidence = 0.90
	hp4Confidence = 0.85

	// hp1Proximity is the maximum character distance between the accession
	// string and the asset alias.
	hp1Proximity = 250

	// comboDowngrade lowers non-leading candidates when several assets share
	// a page with no combination wording.
	comboDowngrade = 0.20
)

var (
	nctRe   = regexp.MustCompile(`\bNCT\d{8}\b`)
	comboRe = regexp.MustCompile(`(?i)\b(combination|combo|plus|arm|cohort)\b|\+`)
)

// AliasHit is an asset alias occurrence inside the document text.
type AliasHit struct {
	AssetID   int64
	Alias     string
	AliasType string // code, inn, generic, brand
	Offset    int
}

// Page is the parsed view of a document handed to the heuristics.
type Page struct {
	DocumentID int64
	Text       string
	Title      string
	HostDomain string
	IsPR       bool
	IsAbstract bool
	AliasHits  []AliasHit
}

// InterventionCache is the registry-cache collaborator HP-2 requires; the
// heuristic stays disabled when none is wired.
type InterventionCache interface {
	TrialsByIntervention(ctx context.Context, interventionName string) ([]string, error)
}

// LinkerConfig carries the configured domain and keyword lists.
type LinkerConfig struct {
	WireServiceDomains []string `yaml:"wire_service_domains"`
	CompanyDomains     []string `yaml:"company_domains"`
	PhaseKeywords      []string `yaml:"phase_keywords"`
	IndicationKeywords []string `yaml:"indication_keywords"`
}

// DefaultLinkerConfig returns the production keyword lists.
func DefaultLinkerConfig() LinkerConfig {
	return LinkerConfig{
		WireServiceDomains: []string{"prnewswire.com", "businesswire.com", "globenewswire.com", "accesswire.com"},
		PhaseKeywords:      []string{"phase 2", "phase ii", "phase 3", "phase iii", "pivotal", "registrational"},
		IndicationKeywords: []string{"cancer", "carcinoma", "lymphoma", "leukemia", "melanoma", "myeloma", "tumor", "fibrosis", "dermatitis", "psoriasis", "colitis"},
	}
}

// Linker runs the high-precision heuristics over parsed pages.
type Linker struct {
	cfg           LinkerConfig
	interventions InterventionCache // nil disables HP-2
}

// NewLinker creates a linker; interventions may be nil.
func NewLinker(cfg LinkerConfig, interventions InterventionCache) *Linker {
	return &Linker{cfg: cfg, interventions: interventions}
}

// Evaluate runs HP-1..HP-4 and the combo-conflict policy, returning link
// candidates ready for persistence.
func (l *Linker) Evaluate(ctx context.Context, page Page) ([]persistence.DocumentLink, error) {
	var links []persistence.DocumentLink

	links = append(links, l.hp1(page)...)

	hp2, err := l.hp2(ctx, page)
	if err != nil {
		return nil, err
	}
	links = append(links, hp2...)
	links = append(links, l.hp3(page)...)
	links = append(links, l.hp4(page)...)

	return l.applyComboPolicy(page, links), nil
}

// hp1: an NCT accession and an asset alias within 250 characters.
func (l *Linker) hp1(page Page) []persistence.DocumentLink {
	var links []persistence.DocumentLink
	for _, loc := range nctRe.FindAllStringIndex(page.Text, -1) {
		nct := page.Text[loc[0]:loc[1]]
		for _, hit := range page.AliasHits {
			dist := hit.Offset - loc[0]
			if dist < 0 {
				dist = -dist
			}
			if dist > hp1Proximity {
				continue
			}
			n := nct
			links = append(links, persistence.DocumentLink{
				DocumentID: page.DocumentID,
				AssetID:    hit.AssetID,
				NCTID:      &n,
				LinkType:   HP1NCTNearAsset,
				Confidence: hp1Confidence,
				Evidence: map[string]interface{}{
					"nct_offset":   loc[0],
					"alias":        hit.Alias,
					"alias_offset": hit.Offset,
				},
			})
		}
	}
	return links
}

// hp2: an alias exactly equals a registry intervention name for a known
// trial. Requires the intervention cache collaborator.
func (l *Linker) hp2(ctx context.Context, page Page) ([]persistence.DocumentLink, error) {
	if l.interventions == nil {
		return nil, nil
	}
	var links []persistence.DocumentLink
	for _, hit := range page.AliasHits {
		ncts, err := l.interventions.TrialsByIntervention(ctx, hit.Alias)
		if err != nil {
			return nil, err
		}
		for _, nct := range ncts {
			n := nct
			links = append(links, persistence.DocumentLink{
				DocumentID: page.DocumentID,
				AssetID:    hit.AssetID,
				NCTID:      &n,
				LinkType:   HP2InterventionHit,
				Confidence: hp2Confidence,
				Evidence:   map[string]interface{}{"intervention": hit.Alias},
			})
		}
	}
	return links, nil
}

// hp3: a PR hosted on a company domain (not a wire service) carrying both a
// code and an INN/generic that resolve to the same asset.
func (l *Linker) hp3(page Page) []persistence.DocumentLink {
	if !page.IsPR || page.HostDomain == "" || l.isWireService(page.HostDomain) {
		return nil
	}

	codes := map[int64]AliasHit{}
	inns := map[int64]bool{}
	for _, hit := range page.AliasHits {
		switch hit.AliasType {
		case "code":
			codes[hit.AssetID] = hit
		case "inn", "generic":
			inns[hit.AssetID] = true
		}
	}

	var links []persistence.DocumentLink
	for assetID, codeHit := range codes {
		if !inns[assetID] {
			continue
		}
		links = append(links, persistence.DocumentLink{
			DocumentID: page.DocumentID,
			AssetID:    assetID,
			LinkType:   HP3CompanyHostedPR,
			Confidence: hp3Confidence,
			Evidence: map[string]interface{}{
				"host": page.HostDomain,
				"code": codeHit.Alias,
			},
		})
	}
	return links
}

// hp4: an abstract whose title carries an unambiguous code and whose body
// carries a phase keyword and an indication keyword.
func (l *Linker) hp4(page Page) []persistence.DocumentLink {
	if !page.IsAbstract {
		return nil
	}
	body := strings.ToLower(page.Text)
	if !containsAny(body, l.cfg.PhaseKeywords) || !containsAny(body, l.cfg.IndicationKeywords) {
		return nil
	}

	title := strings.ToLower(page.Title)
	var links []persistence.DocumentLink
	for _, hit := range page.AliasHits {
		if hit.AliasType != "code" || !strings.Contains(title, strings.ToLower(hit.Alias)) {
			continue
		}
		links = append(links, persistence.DocumentLink{
			DocumentID: page.DocumentID,
			AssetID:    hit.AssetID,
			LinkType:   HP4AbstractSpecific,
			Confidence: hp4Confidence,
			Evidence:   map[string]interface{}{"title_code": hit.Alias},
		})
	}
	return links
}

// applyComboPolicy downgrades non-leading assets by 0.20 when several assets
// are linked on one document without combination wording.
func (l *Linker) applyComboPolicy(page Page, links []persistence.DocumentLink) []persistence.DocumentLink {
	assets := map[int64]bool{}
	for _, link := range links {
		assets[link.AssetID] = true
	}
	if len(assets) < 2 || comboRe.MatchString(page.Text) {
		return links
	}

	// The leading candidate is the highest-confidence link's asset.
	var leader int64
	best := -1.0
	for _, link := range links {
		if link.Confidence > best {
			best = link.Confidence
			leader = link.AssetID
		}
	}
	for i := range links {
		if links[i].AssetID == leader {
			continue
		}
		links[i].Confidence -= comboDowngrade
		if links[i].Confidence < 0 {
			links[i].Confidence = 0
		}
		if links[i].Evidence == nil {
			links[i].Evidence = map[string]interface{}{}
		}
		links[i].Evidence["combo_downgrade"] = comboDowngrade
	}
	return links
}

func (l *Linker) isWireService(domain string) bool {
	d := strings.ToLower(domain)
	for _, wire := range l.cfg.WireServiceDomains {
		if d == wire || strings.HasSuffix(d, "."+wire) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

package mitre

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/quay/zlog"
	"gopkg.in/yaml.v3"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const AtlasURL = `https://raw.githubusercontent.com/mitre-atlas/atlas-data/main/dist/ATLAS.yaml`

const atlasName = `mitre-atlas`

var _ driver.Feed = (*Atlas)(nil)

// Atlas ingests the ATLAS matrix YAML. Techniques land in the shared
// techniques table with framework "atlas"; case studies go to an optional
// atlas_case_studies table.
type Atlas struct {
	c   *http.Client
	url string
}

// AtlasOption configures an Atlas ingester.
type AtlasOption func(*Atlas)

// WithAtlasURL overrides the matrix location.
func WithAtlasURL(u string) AtlasOption { return func(a *Atlas) { a.url = u } }

// WithAtlasClient sets the http.Client used for fetching.
func WithAtlasClient(c *http.Client) AtlasOption { return func(a *Atlas) { a.c = c } }

// NewAtlas returns an Atlas ingester configured by opts.
func NewAtlas(opts ...AtlasOption) *Atlas {
	a := &Atlas{c: http.DefaultClient, url: AtlasURL}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements driver.Feed.
func (*Atlas) Name() string { return atlasName }

type atlasDoc struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Matrices []struct {
		Tactics []struct {
			ID   string `yaml:"id"`
			Name string `yaml:"name"`
		} `yaml:"tactics"`
		Techniques []atlasTechnique `yaml:"techniques"`
	} `yaml:"matrices"`
	CaseStudies []atlasCaseStudy `yaml:"case-studies"`
}

type atlasTechnique struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Tactics        []string `yaml:"tactics"`
	SubtechniqueOf string   `yaml:"subtechnique-of"`
	ATTCKReference string   `yaml:"ATT&CK-reference"`
	CreatedDate    string   `yaml:"created_date"`
	ModifiedDate   string   `yaml:"modified_date"`
}

type atlasCaseStudy struct {
	ID           string `yaml:"id" json:"case_study_id"`
	Name         string `yaml:"name" json:"name"`
	Summary      string `yaml:"summary" json:"summary"`
	IncidentDate string `yaml:"incident-date" json:"incident_date"`
	Target       string `yaml:"target" json:"target"`
}

// Ingest implements driver.Feed.
func (a *Atlas) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "mitre/Atlas.Ingest")

	req, err := httputil.NewRequest(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return driver.Fail(atlasName, err)
	}
	res, err := a.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(atlasName, 0, 0)
		}
		return driver.Fail(atlasName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(atlasName, err)
	}
	doc, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return driver.Fail(atlasName, fmt.Errorf("reading matrix: %w", err))
	}

	var matrix atlasDoc
	if err := yaml.Unmarshal(doc, &matrix); err != nil {
		return driver.Fail(atlasName, fmt.Errorf("decoding matrix: %w", err))
	}
	if len(matrix.Matrices) == 0 {
		return driver.Skip(atlasName, "no matrices in document")
	}
	zlog.Debug(ctx).Str("version", matrix.Version).Msg("fetched matrix")

	var techniques []vigil.Technique
	for _, t := range matrix.Matrices[0].Techniques {
		if t.ID == "" {
			continue
		}
		refs := []vigil.ExternalReference{}
		if t.ATTCKReference != "" {
			refs = append(refs, vigil.ExternalReference{
				SourceName: "mitre-attack",
				ExternalID: t.ATTCKReference,
			})
		}
		techniques = append(techniques, vigil.Technique{
			ID:                 t.ID,
			Name:               t.Name,
			Description:        strings.TrimSpace(t.Description),
			Framework:          vigil.FrameworkATLAS,
			Tactics:            vigil.NonNull(t.Tactics),
			IsSubtechnique:     t.SubtechniqueOf != "",
			ParentTechniqueID:  t.SubtechniqueOf,
			Platforms:          []string{},
			ExternalReferences: refs,
		})
	}
	if len(techniques) == 0 {
		return driver.Skip(atlasName, "no techniques in matrix")
	}
	techniques = driver.Dedupe(techniques, func(t vigil.Technique) string { return t.ID })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(techniques, 100) {
		if err := store.Upsert(ctx, "techniques", batch, postgrest.UpsertOpts{OnConflict: "id"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(atlasName, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}

	studies := driver.Dedupe(matrix.CaseStudies, func(s atlasCaseStudy) string { return s.ID })
	var caseStudies int
	if len(studies) > 0 {
		switch err := store.Upsert(ctx, "atlas_case_studies", studies, postgrest.UpsertOpts{OnConflict: "case_study_id"}); {
		case err == nil:
			caseStudies = len(studies)
		case budget.Exhausted(err):
			return driver.PartialBudget(atlasName, updated, failed)
		case postgrest.IsMissingTable(err):
			zlog.Warn(ctx).Msg("atlas_case_studies table missing; skipping")
		default:
			failed++
			lastErr = err.Error()
		}
	}

	zlog.Info(ctx).
		Int("techniques", updated).
		Int("case_studies", caseStudies).
		Int("failed", failed).
		Msg("atlas ingest finished")
	return driver.Result{
		Source:    atlasName,
		Success:   true,
		Updated:   updated + caseStudies,
		Failed:    failed,
		LastError: lastErr,
		Extra:     map[string]any{"caseStudies": caseStudies},
	}
}

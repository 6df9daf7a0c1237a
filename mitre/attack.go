// Package mitre ingests the ATT&CK enterprise STIX bundle and the ATLAS
// matrix.
package mitre

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const AttackURL = `https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json`

const attackName = `mitre-attack`

var _ driver.Feed = (*Attack)(nil)

// Attack ingests the enterprise-attack bundle: intrusion sets become threat
// actors, attack patterns become techniques, and campaigns are attributed to
// actors by following attributed-to relationships. The campaigns table is
// optional downstream; its absence stops campaign processing without failing
// the run.
type Attack struct {
	c   *http.Client
	url string
}

// AttackOption configures an Attack ingester.
type AttackOption func(*Attack)

// WithAttackURL overrides the bundle location.
func WithAttackURL(u string) AttackOption { return func(a *Attack) { a.url = u } }

// WithAttackClient sets the http.Client used for fetching.
func WithAttackClient(c *http.Client) AttackOption { return func(a *Attack) { a.c = c } }

// NewAttack returns an Attack ingester configured by opts.
func NewAttack(opts ...AttackOption) *Attack {
	a := &Attack{c: http.DefaultClient, url: AttackURL}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements driver.Feed.
func (*Attack) Name() string { return attackName }

type stixBundle struct {
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type               string   `json:"type"`
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Aliases            []string `json:"aliases"`
	FirstSeen          string   `json:"first_seen"`
	LastSeen           string   `json:"last_seen"`
	Revoked            bool     `json:"revoked"`
	Deprecated         bool     `json:"x_mitre_deprecated"`
	IsSubtechnique     bool     `json:"x_mitre_is_subtechnique"`
	Platforms          []string `json:"x_mitre_platforms"`
	KillChainPhases    []struct {
		KillChainName string `json:"kill_chain_name"`
		PhaseName     string `json:"phase_name"`
	} `json:"kill_chain_phases"`
	ExternalReferences []struct {
		SourceName string `json:"source_name"`
		ExternalID string `json:"external_id"`
		URL        string `json:"url"`
	} `json:"external_references"`
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}

// attackID finds the catalog id (T1078, G0032, C0001) in an object's
// external references.
func (o *stixObject) attackID() string {
	for _, r := range o.ExternalReferences {
		if r.SourceName == "mitre-attack" && r.ExternalID != "" {
			return r.ExternalID
		}
	}
	return ""
}

func (o *stixObject) attackURL() string {
	for _, r := range o.ExternalReferences {
		if r.SourceName == "mitre-attack" {
			return r.URL
		}
	}
	return ""
}

// Ingest implements driver.Feed.
func (a *Attack) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "mitre/Attack.Ingest")

	req, err := httputil.NewRequest(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return driver.Fail(attackName, err)
	}
	res, err := a.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(attackName, 0, 0)
		}
		return driver.Fail(attackName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(attackName, err)
	}

	var bundle stixBundle
	if err := json.NewDecoder(res.Body).Decode(&bundle); err != nil {
		return driver.Fail(attackName, fmt.Errorf("decoding bundle: %w", err))
	}
	if len(bundle.Objects) == 0 {
		return driver.Skip(attackName, "empty bundle")
	}

	// One pass to index names by STIX id and collect attributions, then the
	// entity builds below can resolve references without re-walking.
	nameByRef := make(map[string]string)
	attributions := make(map[string][]string)
	for idx := range bundle.Objects {
		o := &bundle.Objects[idx]
		switch o.Type {
		case "intrusion-set", "campaign":
			nameByRef[o.ID] = o.Name
		case "relationship":
			if o.RelationshipType == "attributed-to" {
				attributions[o.SourceRef] = append(attributions[o.SourceRef], o.TargetRef)
			}
		}
	}

	var actors []vigil.ThreatActor
	var techniques []vigil.Technique
	var campaigns []vigil.Campaign
	for idx := range bundle.Objects {
		o := &bundle.Objects[idx]
		if o.Revoked || o.Deprecated {
			continue
		}
		switch o.Type {
		case "intrusion-set":
			actors = append(actors, vigil.ThreatActor{
				Name:            o.Name,
				Aliases:         vigil.NonNull(o.Aliases),
				ActorType:       vigil.ActorAPT,
				Status:          "active",
				FirstSeen:       vigil.Date(o.FirstSeen),
				LastSeen:        vigil.Date(o.LastSeen),
				TargetCountries: []string{},
				TargetSectors:   []string{},
				Description:     o.Description,
				Source:          attackName,
				Metadata:        map[string]any{"mitre_id": o.attackID()},
			})
		case "attack-pattern":
			id := o.attackID()
			if id == "" {
				continue
			}
			tactics := []string{}
			for _, p := range o.KillChainPhases {
				if p.KillChainName == "mitre-attack" {
					tactics = append(tactics, p.PhaseName)
				}
			}
			refs := make([]vigil.ExternalReference, 0, len(o.ExternalReferences))
			for _, r := range o.ExternalReferences {
				refs = append(refs, vigil.ExternalReference{
					SourceName: r.SourceName,
					ExternalID: r.ExternalID,
					URL:        r.URL,
				})
			}
			parent := ""
			if o.IsSubtechnique {
				parent, _, _ = strings.Cut(id, ".")
			}
			techniques = append(techniques, vigil.Technique{
				ID:                 id,
				Name:               o.Name,
				Description:        o.Description,
				Framework:          vigil.FrameworkEnterprise,
				Tactics:            tactics,
				IsSubtechnique:     o.IsSubtechnique,
				ParentTechniqueID:  parent,
				Platforms:          vigil.NonNull(o.Platforms),
				ExternalReferences: refs,
			})
		case "campaign":
			id := o.attackID()
			if id == "" {
				id = o.ID
			}
			attributed := []string{}
			for _, ref := range attributions[o.ID] {
				if n := nameByRef[ref]; n != "" {
					attributed = append(attributed, n)
				}
			}
			campaigns = append(campaigns, vigil.Campaign{
				CampaignID:       id,
				Name:             o.Name,
				Description:      o.Description,
				FirstSeen:        vigil.Date(o.FirstSeen),
				LastSeen:         vigil.Date(o.LastSeen),
				AttributedActors: attributed,
				Source:           attackName,
				SourceURL:        o.attackURL(),
			})
		}
	}
	actors = driver.Dedupe(actors, func(a vigil.ThreatActor) string { return a.Name })
	techniques = driver.Dedupe(techniques, func(t vigil.Technique) string { return t.ID })
	campaigns = driver.Dedupe(campaigns, func(c vigil.Campaign) string { return c.CampaignID })

	var groups, techs, camps, failed int
	var lastErr string
	for _, batch := range driver.Chunks(actors, 50) {
		if err := store.Upsert(ctx, "threat_actors", batch, postgrest.UpsertOpts{OnConflict: "name"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(attackName, groups, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		groups += len(batch)
	}
	for _, batch := range driver.Chunks(techniques, 100) {
		if err := store.Upsert(ctx, "techniques", batch, postgrest.UpsertOpts{OnConflict: "id"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(attackName, groups+techs, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		techs += len(batch)
	}
Campaigns:
	for _, batch := range driver.Chunks(campaigns, 50) {
		switch err := store.Upsert(ctx, "campaigns", batch, postgrest.UpsertOpts{OnConflict: "campaign_id"}); {
		case err == nil:
			camps += len(batch)
		case budget.Exhausted(err):
			return driver.PartialBudget(attackName, groups+techs+camps, failed)
		case postgrest.IsMissingTable(err):
			zlog.Warn(ctx).Msg("campaigns table missing; skipping campaign processing")
			break Campaigns
		default:
			failed += len(batch)
			lastErr = err.Error()
		}
	}

	zlog.Info(ctx).
		Int("groups", groups).
		Int("techniques", techs).
		Int("campaigns", camps).
		Int("failed", failed).
		Msg("attack ingest finished")
	return driver.Result{
		Source:    attackName,
		Success:   true,
		Updated:   groups + techs + camps,
		Failed:    failed,
		LastError: lastErr,
		Extra: map[string]any{
			"groupsUpdated":     groups,
			"techniquesUpdated": techs,
			"campaignsUpdated":  camps,
		},
	}
}

// Package pathresolve computes the deterministic filesystem layout
// described in spec.md §4.5 / §6.1: where an agent's staged artifact,
// logs, archive and final promotion destination live on disk.
package pathresolve

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// productionPattern matches YYYYMMDD_HHMMSS_<COMPANY>_<CITY>_<NEIGHBORHOOD>.json
var productionPattern = regexp.MustCompile(`(?i)^(\d{8})_(\d{6})_([A-Za-z0-9]+)_([A-Za-z0-9]+)_([A-Za-z0-9]+)\.json$`)

// manualTestPattern matches HORODATAGE_<COMPANY>_<CITY>_<NEIGHBORHOOD>.json
var manualTestPattern = regexp.MustCompile(`(?i)^HORODATAGE_([A-Za-z0-9]+)_([A-Za-z0-9]+)_([A-Za-z0-9]+)\.json$`)

// ParsedFilename is what a recognized report filename reveals about
// itself. Per REDESIGN FLAG 4 this is NEVER used as the authoritative
// cycle time — only operation_end_time inside the report is.
type ParsedFilename struct {
	Company      string
	City         string
	Neighborhood string
}

// MatchReportFilename reports whether name matches one of the two
// accepted patterns (spec.md §4.5), case-insensitively, and extracts
// the site coordinates it encodes.
func MatchReportFilename(name string) (ParsedFilename, bool) {
	if m := productionPattern.FindStringSubmatch(name); m != nil {
		return ParsedFilename{Company: strings.ToLower(m[3]), City: strings.ToLower(m[4]), Neighborhood: strings.ToLower(m[5])}, true
	}
	if m := manualTestPattern.FindStringSubmatch(name); m != nil {
		return ParsedFilename{Company: strings.ToLower(m[1]), City: strings.ToLower(m[2]), Neighborhood: strings.ToLower(m[3])}, true
	}
	return ParsedFilename{}, false
}

// agentDirPattern recognizes a canonical agent deposit directory name:
// exactly three underscore-separated tokens (COMPANY_CITY_NEIGHBORHOOD).
var agentDirPattern = regexp.MustCompile(`^([^_]+)_([^_]+)_([^_]+)$`)

// SiteCoords is company/city/neighborhood, each lowercased.
type SiteCoords struct {
	Company      string
	City         string
	Neighborhood string
}

// AgentID returns the canonical "company_city_neighborhood" form.
func (s SiteCoords) AgentID() string {
	return fmt.Sprintf("%s_%s_%s", s.Company, s.City, s.Neighborhood)
}

// ParseAgentDir canonicalizes an agent deposit directory name. It
// returns ok=false when the name is not exactly three underscore
// separated tokens (spec.md §4.7 Phase 1, step 1).
func ParseAgentDir(name string) (SiteCoords, bool) {
	m := agentDirPattern.FindStringSubmatch(name)
	if m == nil {
		return SiteCoords{}, false
	}
	return SiteCoords{Company: strings.ToLower(m[1]), City: strings.ToLower(m[2]), Neighborhood: strings.ToLower(m[3])}, true
}

// Resolver computes paths rooted at a staging root and a separate
// validated (promotion) root.
type Resolver struct {
	StagingRoot   string
	ValidatedRoot string
}

func New(stagingRoot, validatedRoot string) *Resolver {
	return &Resolver{StagingRoot: stagingRoot, ValidatedRoot: validatedRoot}
}

// StagingArtifact returns <root>/<agent_id>/database/<staged_file_name>.
// stagedFileName must already be validated as a bare basename.
func (r *Resolver) StagingArtifact(agentID, stagedFileName string) string {
	return filepath.Join(r.StagingRoot, agentID, "database", stagedFileName)
}

// LogDir returns <root>/<agent_id>/log/.
func (r *Resolver) LogDir(agentID string) string {
	return filepath.Join(r.StagingRoot, agentID, "log")
}

// ArchiveDir returns <root>/<agent_id>/log/_archive/.
func (r *Resolver) ArchiveDir(agentID string) string {
	return filepath.Join(r.LogDir(agentID), "_archive")
}

// Promotion returns <validated_root>/<year>/<company>/<city>/<neighborhood>/<database>/<staged_file_name>.
// Every path component is validated: none may contain a path separator
// or "..", so a hostile database/company/file name cannot escape the
// validated root.
func (r *Resolver) Promotion(year int, site SiteCoords, database, stagedFileName string) (string, error) {
	parts := map[string]string{
		"company":      site.Company,
		"city":         site.City,
		"neighborhood": site.Neighborhood,
		"database":     database,
		"staged_file_name": stagedFileName,
	}
	for field, v := range parts {
		if err := validateComponent(field, v); err != nil {
			return "", err
		}
	}
	return filepath.Join(r.ValidatedRoot, strconv.Itoa(year), site.Company, site.City, site.Neighborhood, database, stagedFileName), nil
}

func validateComponent(field, v string) error {
	if v == "" {
		return fmt.Errorf("pathresolve: empty %s", field)
	}
	if strings.Contains(v, "/") || strings.Contains(v, `\`) || strings.Contains(v, "..") {
		return fmt.Errorf("pathresolve: %s %q contains forbidden path component", field, v)
	}
	return nil
}

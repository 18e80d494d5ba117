// Package beamtime locates and parses the beamtime-metadata*.json
// document the facility data system writes into the beamtime root.
// The document supplies cluster credentials and reservations; detector
// parameters stay in the per-run info.txt.
package beamtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/config"
)

// OnlineAnalysis is the subsection carrying the online-processing
// reservation handed out for the beamtime.
type OnlineAnalysis struct {
	ReservedNodes     []string `json:"reservedNodes"`
	SSHPrivateKeyPath string   `json:"sshPrivateKeyPath"`
	SSHPublicKeyPath  string   `json:"sshPublicKeyPath"`
	UserAccount       string   `json:"userAccount"`
	SlurmPartition    string   `json:"slurmPartition"`
}

// Metadata is the subset of the beamtime document this tool consumes.
// Everything else in the JSON is ignored.
type Metadata struct {
	BeamtimeID     string          `json:"beamtimeId"`
	CorePath       string          `json:"corePath"`
	OnlineAnalysis *OnlineAnalysis `json:"onlineAnalysis"`

	// File is the path the metadata was read from.
	File string `json:"-"`
}

func (m Metadata) valid() bool {
	return strings.TrimSpace(m.BeamtimeID) != "" && m.OnlineAnalysis != nil
}

// Root derives the beamtime root from a raw-data path: everything up
// to the "/raw" component, or the path itself when it holds no raw
// segment.
func Root(rawPath string) string {
	if i := strings.Index(rawPath, string(filepath.Separator)+"raw"); i >= 0 {
		return rawPath[:i]
	}
	return rawPath
}

// Find returns the first valid beamtime-metadata*.json in baseDir.
// Files that fail to parse or lack the required fields are skipped so
// a stale or partial document cannot shadow a good one.
func Find(baseDir string) (Metadata, error) {
	if _, err := os.Stat(baseDir); err != nil {
		return Metadata{}, fmt.Errorf("beamtime root: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(baseDir, "beamtime-metadata*.json"))
	if err != nil {
		return Metadata{}, fmt.Errorf("glob beamtime metadata: %w", err)
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		if !meta.valid() {
			continue
		}
		meta.File = path
		return meta, nil
	}
	return Metadata{}, fmt.Errorf("no valid beamtime-metadata*.json under %s", baseDir)
}

// Merge copies the cluster parameters into the configuration. The
// --u username wins over the metadata account, and --maxwell replaces
// the beamtime reservation with the shared Maxwell partitions.
func Merge(cfg *config.Config, meta Metadata, username string, maxwell bool) {
	cfg.BeamtimeID = meta.BeamtimeID
	cfg.Maxwell = maxwell

	oa := meta.OnlineAnalysis
	if oa == nil {
		return
	}
	cfg.SlurmPartition = oa.SlurmPartition
	cfg.SSHPublicKeyPath = oa.SSHPublicKeyPath
	if oa.SSHPrivateKeyPath != "" {
		cfg.SSHPrivateKeyPath = filepath.Join(Root(cfg.Crystallography.RawDirectory), oa.SSHPrivateKeyPath)
	}

	cfg.User = oa.UserAccount
	if username != "" {
		cfg.User = username
	}

	if maxwell {
		cfg.ReservedNodes = "maxwell"
	} else {
		cfg.ReservedNodes = strings.Join(oa.ReservedNodes, ",")
	}
}

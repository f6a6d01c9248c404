package store

import (
	"github.com/rs/zerolog/log"
)

// MigrateLegacySessions performs the one-time migration from the legacy
// claude-only session document to the provider-tagged document. It runs
// only when the new document is absent and the legacy one is present:
// every legacy record is tagged provider "claude" and the result is
// written under the new name. The legacy document is left in place so
// old-format reads keep working for backward-compatible lookups.
func (s *Store) MigrateLegacySessions() {
	if s.Exists(DocSessions) || !s.Exists(DocLegacySessions) {
		return
	}

	var records []map[string]interface{}
	if err := s.Read(DocLegacySessions, &records); err != nil || len(records) == 0 {
		return
	}

	for _, rec := range records {
		if _, ok := rec["provider"]; !ok {
			rec["provider"] = "claude"
		}
	}

	if err := s.Write(DocSessions, records); err != nil {
		log.Warn().Err(err).Msg("legacy session migration failed, continuing with legacy document")
		return
	}

	log.Info().Int("records", len(records)).Msg("migrated legacy session document")
}

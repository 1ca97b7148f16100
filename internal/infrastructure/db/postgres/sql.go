package postgres

const upsertHistorySQL = `
INSERT INTO browse_history (history_id, fingerprint_id, user_id, product_id, browse_time)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
ON CONFLICT (history_id) DO UPDATE SET
  browse_time = EXCLUDED.browse_time,
  user_id     = COALESCE(browse_history.user_id, EXCLUDED.user_id)
`

// rows recorded anonymously become visible to the user once their fingerprint is linked
const listHistoryByUserSQL = `
SELECT h.history_id, h.fingerprint_id, COALESCE(h.user_id, ''), h.product_id, h.browse_time
FROM browse_history h
WHERE h.user_id = $1
   OR h.fingerprint_id IN (SELECT f.fingerprint_id FROM browser_fingerprints f WHERE f.user_id = $1)
ORDER BY h.browse_time DESC, h.history_id DESC
LIMIT $2 OFFSET $3
`

const countHistoryByUserSQL = `
SELECT COUNT(*)
FROM browse_history h
WHERE h.user_id = $1
   OR h.fingerprint_id IN (SELECT f.fingerprint_id FROM browser_fingerprints f WHERE f.user_id = $1)
`

const listHistoryByFingerprintSQL = `
SELECT history_id, fingerprint_id, COALESCE(user_id, ''), product_id, browse_time
FROM browse_history
WHERE fingerprint_id = $1
ORDER BY browse_time DESC, history_id DESC
LIMIT $2 OFFSET $3
`

const countHistoryByFingerprintSQL = `
SELECT COUNT(*) FROM browse_history WHERE fingerprint_id = $1
`

// re-linking the same pair leaves linked_at untouched
const upsertFingerprintLinkSQL = `
INSERT INTO browser_fingerprints (fingerprint_id, user_id, linked_at)
VALUES ($1, $2, $3)
ON CONFLICT (fingerprint_id) DO UPDATE SET
  user_id   = EXCLUDED.user_id,
  linked_at = EXCLUDED.linked_at
WHERE browser_fingerprints.user_id IS DISTINCT FROM EXCLUDED.user_id
`

const fingerprintsForUserSQL = `
SELECT fingerprint_id FROM browser_fingerprints
WHERE user_id = $1
ORDER BY linked_at DESC, fingerprint_id
`

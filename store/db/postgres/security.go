package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) CreateSigningKey(ctx context.Context, k *store.SigningKey) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO signing_keys (id, org_id, key_name, fingerprint, public_key, encrypted_private_key, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, k.ID, k.OrgID, k.KeyName, k.Fingerprint, k.PublicKey, k.EncryptedPrivateKey, k.CreatedAt, k.RevokedAt)
	return errors.Wrap(err, "failed to create signing key")
}

func (d *DB) GetSigningKeyByFingerprint(ctx context.Context, orgID, fingerprint string) (*store.SigningKey, error) {
	var k store.SigningKey
	err := d.db.QueryRowContext(ctx, `
		SELECT id, org_id, key_name, fingerprint, public_key, encrypted_private_key, created_at, revoked_at
		FROM signing_keys WHERE org_id = $1 AND fingerprint = $2
	`, orgID, fingerprint).Scan(&k.ID, &k.OrgID, &k.KeyName, &k.Fingerprint, &k.PublicKey, &k.EncryptedPrivateKey, &k.CreatedAt, &k.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get signing key")
	}
	return &k, nil
}

func (d *DB) RevokeSigningKey(ctx context.Context, id store.UUID, revokedAt time.Time) error {
	res, err := d.db.ExecContext(ctx, `UPDATE signing_keys SET revoked_at = $2 WHERE id = $1`, id, revokedAt)
	if err != nil {
		return errors.Wrap(err, "failed to revoke signing key")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check revoke result")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) CreateTrustedKey(ctx context.Context, k *store.TrustedKey) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO trusted_keys (id, org_id, fingerprint, public_key, key_name, trusted_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, k.ID, k.OrgID, k.Fingerprint, k.PublicKey, k.KeyName, k.TrustedAt, k.RevokedAt)
	return errors.Wrap(err, "failed to create trusted key")
}

func (d *DB) GetTrustedKey(ctx context.Context, orgID, fingerprint string) (*store.TrustedKey, error) {
	var k store.TrustedKey
	err := d.db.QueryRowContext(ctx, `
		SELECT id, org_id, fingerprint, public_key, key_name, trusted_at, revoked_at
		FROM trusted_keys WHERE org_id = $1 AND fingerprint = $2
	`, orgID, fingerprint).Scan(&k.ID, &k.OrgID, &k.Fingerprint, &k.PublicKey, &k.KeyName, &k.TrustedAt, &k.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get trusted key")
	}
	return &k, nil
}

func (d *DB) RevokeTrustedKey(ctx context.Context, id store.UUID, revokedAt time.Time) error {
	res, err := d.db.ExecContext(ctx, `UPDATE trusted_keys SET revoked_at = $2 WHERE id = $1`, id, revokedAt)
	if err != nil {
		return errors.Wrap(err, "failed to revoke trusted key")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check revoke result")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) CreateTrustAcl(ctx context.Context, parentOrg, childOrg string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO trust_acls (id, parent_org, child_org, created_at) VALUES (gen_random_uuid(), $1, $2, now())
	`, parentOrg, childOrg)
	return errors.Wrap(err, "failed to create trust acl")
}

func (d *DB) RevokeTrustAcl(ctx context.Context, parentOrg, childOrg string, revokedAt time.Time) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE trust_acls SET revoked_at = $3 WHERE parent_org = $1 AND child_org = $2 AND revoked_at IS NULL
	`, parentOrg, childOrg, revokedAt)
	if err != nil {
		return errors.Wrap(err, "failed to revoke trust acl")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check revoke result")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListTrustAclParents returns every org whose trust chain reaches childOrg,
// including childOrg itself, by walking parent_org edges to a fixed depth
// bound to prevent cycles from looping forever.
func (d *DB) ListTrustAclParents(ctx context.Context, childOrg string) ([]string, error) {
	orgs := []string{childOrg}
	seen := map[string]bool{childOrg: true}
	frontier := []string{childOrg}

	const maxDepth = 16
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		rows, err := d.db.QueryContext(ctx, `
			SELECT parent_org FROM trust_acls WHERE child_org = ANY($1) AND revoked_at IS NULL
		`, pq.Array(frontier))
		if err != nil {
			return nil, errors.Wrap(err, "failed to walk trust acl chain")
		}
		var next []string
		for rows.Next() {
			var parent string
			if err := rows.Scan(&parent); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "failed to scan trust acl parent")
			}
			if !seen[parent] {
				seen[parent] = true
				orgs = append(orgs, parent)
				next = append(next, parent)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "failed to iterate trust acl parents")
		}
		frontier = next
	}

	return orgs, nil
}

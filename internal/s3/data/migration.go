package data

import (
	"fmt"

	"github.com/lk2023060901/nanami/internal/pkg/database"
)

// fkObjectsBucket keeps buckets with objects from being deleted
const fkObjectsBucket = "fk_s3_objects_bucket"

// addConstraint builds an idempotent ALTER TABLE ... ADD CONSTRAINT
func addConstraint(table, name, definition string) string {
	return fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN
		ALTER TABLE %s ADD CONSTRAINT "%s" %s;
	END IF;
END $$;`, name, table, name, definition)
}

// Migration returns the schema migration of the S3 metadata tables
func Migration() database.Migration {
	return database.Migration{
		Before: []string{
			`CREATE EXTENSION IF NOT EXISTS citext`,
		},
		Models: []any{
			&BucketPO{},
			&ObjectPO{},
			&ObjectVersionPO{},
			&UpstreamFilePO{},
			&ObjectPiecePO{},
		},
		// foreign keys are added after the tables exist; s3_objects and s3_object_versions reference each other
		After: []string{
			addConstraint("s3_objects", fkObjectsBucket,
				"FOREIGN KEY (bucket_id) REFERENCES s3_buckets (id)"),
			addConstraint("s3_object_versions", "fk_s3_object_versions_object",
				"FOREIGN KEY (object_id) REFERENCES s3_objects (id) ON DELETE CASCADE"),
			addConstraint("s3_objects", "fk_s3_objects_latest_version",
				"FOREIGN KEY (latest_version_id) REFERENCES s3_object_versions (id) DEFERRABLE INITIALLY DEFERRED"),
			addConstraint("object_pieces", "fk_object_pieces_object_version",
				"FOREIGN KEY (object_version_id) REFERENCES s3_object_versions (id) ON DELETE CASCADE"),
			addConstraint("object_pieces", "fk_object_pieces_upstream_file",
				"FOREIGN KEY (upstream_file_id) REFERENCES upstream_files (id)"),
			addConstraint("s3_object_versions", "CHK_s3_object_versions_content_length",
				"CHECK (content_length >= -1)"),
		},
	}
}

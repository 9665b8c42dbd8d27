package database

import (
	"strings"

	"gorm.io/gorm"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE metacharacters so s matches literally. Use with
// ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// WhereIf conditionally adds a where clause
func WhereIf(condition bool, query any, args ...any) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if condition {
			return db.Where(query, args...)
		}
		return db
	}
}

// Limit caps the number of rows; n <= 0 leaves the query unbounded
func Limit(n int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if n > 0 {
			return db.Limit(n)
		}
		return db
	}
}

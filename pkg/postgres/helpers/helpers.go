package helpers

import "gorm.io/gorm"

// WrapTxAndCommit runs fn inside tx when one is given. Otherwise it opens a transaction,
// runs fn and commits, rolling back if fn or the commit fails.
func WrapTxAndCommit[T any](fn func(*gorm.DB) (T, error), db *gorm.DB, tx *gorm.DB) (T, error) {
	if tx != nil {
		return fn(tx)
	}

	tx = db.Begin()
	if tx.Error != nil {
		var zero T
		return zero, tx.Error
	}

	res, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return res, err
	}
	if err := tx.Commit().Error; err != nil {
		return res, err
	}
	return res, nil
}

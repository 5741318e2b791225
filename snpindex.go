// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

const featureIndexSchema = `
CREATE TABLE feature_column (
	seq INTEGER PRIMARY KEY,
	chromosome TEXT NOT NULL,
	position INTEGER NOT NULL,
	kind INTEGER NOT NULL,
	token TEXT NOT NULL,
	category INTEGER NOT NULL,
	column_index INTEGER NOT NULL
);
CREATE INDEX feature_column_site ON feature_column (chromosome, position);
CREATE TABLE metadata (
	compressed INTEGER NOT NULL,
	columns INTEGER NOT NULL
);
`

// featureColumnRow is one (label, column) entry of a FeatureIndex.
type featureColumnRow struct {
	Seq        int    `db:"seq"`
	Chromosome string `db:"chromosome"`
	Position   int    `db:"position"`
	Kind       uint8  `db:"kind"`
	Token      string `db:"token"`
	Category   uint8  `db:"category"`
	Column     int    `db:"column_index"`
}

type featureIndexMetadata struct {
	Compressed bool `db:"compressed"`
	Columns    int  `db:"columns"`
}

func connectSQLite(path string) (*sqlx.DB, error) {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return sqlx.Connect("sqlite", path)
}

// writeFeatureIndex stores idx in a new SQLite database at fnm,
// replacing any existing file. Entries are stored in the order they
// were added, so loading reproduces the same index.
func writeFeatureIndex(fnm string, idx *FeatureIndex) error {
	err := os.Remove(fnm)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	db, err := connectSQLite(fnm)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(featureIndexSchema)
	if err != nil {
		return fmt.Errorf("%s: create schema: %w", fnm, err)
	}
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareNamed(`INSERT INTO feature_column (seq, chromosome, position, kind, token, category, column_index)
		VALUES (:seq, :chromosome, :position, :kind, :token, :category, :column_index)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for seq, ent := range idx.entries {
		_, err = stmt.Exec(featureColumnRow{
			Seq:        seq,
			Chromosome: ent.label.Chromosome,
			Position:   ent.label.Position,
			Kind:       uint8(ent.label.Qualifier.Kind),
			Token:      ent.label.Qualifier.Token,
			Category:   uint8(ent.label.Qualifier.Category),
			Column:     ent.col,
		})
		if err != nil {
			return fmt.Errorf("%s: insert %s: %w", fnm, ent.label, err)
		}
	}
	_, err = tx.NamedExec(`INSERT INTO metadata (compressed, columns) VALUES (:compressed, :columns)`,
		featureIndexMetadata{Compressed: idx.Compressed(), Columns: idx.NumColumns()})
	if err != nil {
		return err
	}
	err = tx.Commit()
	if err != nil {
		return err
	}
	log.Infof("wrote feature index with %d variants, %d columns, %d entries to %s", idx.NumVariants(), idx.NumColumns(), len(idx.entries), fnm)
	return db.Close()
}

func loadFeatureIndex(fnm string) (*FeatureIndex, error) {
	if _, err := os.Stat(fnm); err != nil {
		return nil, err
	}
	db, err := connectSQLite(fnm)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	var meta featureIndexMetadata
	err = db.Get(&meta, `SELECT compressed, columns FROM metadata LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("%s: metadata: %w", fnm, err)
	}
	var rows []featureColumnRow
	err = db.Select(&rows, `SELECT seq, chromosome, position, kind, token, category, column_index FROM feature_column ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	idx := newFeatureIndex(meta.Compressed)
	for _, row := range rows {
		if row.Column < 0 || row.Column >= meta.Columns {
			return nil, fmt.Errorf("%s: entry %d: column %d out of range", fnm, row.Seq, row.Column)
		}
		idx.add(FeatureLabel{
			VariantLabel: VariantLabel{Chromosome: row.Chromosome, Position: row.Position},
			Qualifier: Qualifier{
				Kind:     QualifierKind(row.Kind),
				Token:    row.Token,
				Category: GenotypeCategory(row.Category),
			},
		}, row.Column)
	}
	for len(idx.labels) < meta.Columns {
		idx.labels = append(idx.labels, nil)
	}
	return idx, nil
}

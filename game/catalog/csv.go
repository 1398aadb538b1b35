package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CSVHeaders are the columns a character import must have, in any order.
var CSVHeaders = []string{"first_name", "last_name", "user_id", "user_password", "starting_gold"}

// CSVError describes why an import file was rejected. Row 1 is the header.
type CSVError struct {
	Row int
	Msg string
}

func (e *CSVError) Error() string {
	if e.Row == 0 {
		return "csv: " + e.Msg
	}
	return fmt.Sprintf("csv row %d: %s", e.Row, e.Msg)
}

func (e *CSVError) Unwrap() error { return ErrInvalidInput }

// ParseCharactersCSV reads character rows. Any bad header or row rejects the
// whole file.
func ParseCharactersCSV(r io.Reader) ([]CharacterInput, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &CSVError{Msg: "empty file"}
	}
	if err != nil {
		return nil, &CSVError{Row: 1, Msg: err.Error()}
	}
	cols, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []CharacterInput
	for rowNum := 2; ; rowNum++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &CSVError{Row: rowNum, Msg: err.Error()}
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(header) {
			return nil, &CSVError{Row: rowNum, Msg: fmt.Sprintf("expected %d fields, got %d", len(header), len(rec))}
		}
		field := func(name string) string { return strings.TrimSpace(rec[cols[name]]) }

		gold, err := strconv.ParseInt(field("starting_gold"), 10, 64)
		if err != nil || gold < 0 {
			return nil, &CSVError{Row: rowNum, Msg: "starting_gold must be a non-negative whole number"}
		}
		in := CharacterInput{
			Name:            strings.TrimSpace(field("first_name") + " " + field("last_name")),
			AccountNumber:   field("user_id"),
			AccountPassword: field("user_password"),
			StartingGold:    gold,
		}
		if err := in.validate(); err != nil {
			return nil, &CSVError{Row: rowNum, Msg: strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")}
		}
		rows = append(rows, in)
	}
	if len(rows) == 0 {
		return nil, &CSVError{Msg: "no character rows"}
	}
	return rows, nil
}

func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; dup {
			return nil, &CSVError{Row: 1, Msg: "duplicate column " + h}
		}
		cols[h] = i
	}
	want := append([]string(nil), CSVHeaders...)
	got := make([]string, 0, len(cols))
	for h := range cols {
		got = append(got, h)
	}
	sort.Strings(want)
	sort.Strings(got)
	if strings.Join(want, ",") != strings.Join(got, ",") {
		return nil, &CSVError{Row: 1, Msg: "headers must be " + strings.Join(CSVHeaders, ",")}
	}
	return cols, nil
}

// ImportCharacters creates one character per CSV row in a single transaction.
func (s *Service) ImportCharacters(ctx context.Context, gameID string, r io.Reader) ([]model.Character, error) {
	rows, err := ParseCharactersCSV(r)
	if err != nil {
		return nil, err
	}
	if _, err := store.GetGame(ctx, s.db, gameID); err != nil {
		return nil, err
	}
	chars := make([]model.Character, len(rows))
	for i, in := range rows {
		chars[i] = *in.character(gameID)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&chars).Error
	})
	if err != nil {
		return nil, fmt.Errorf("import characters: %w", err)
	}
	s.logger.Info("characters imported", zap.String("game_id", gameID), zap.Int("count", len(chars)))
	return chars, nil
}

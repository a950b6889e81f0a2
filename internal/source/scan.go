package source

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hpoveda/chreplica/internal/dberr"
	"github.com/hpoveda/chreplica/internal/rowval"
	"github.com/hpoveda/chreplica/internal/schema"
)

const (
	scanMaxRetries = 3
	scanRetryWait  = 2 * time.Second
)

// ScanRequest describes one table scan.
type ScanRequest struct {
	Spec      schema.TableSpec
	Where     string // predicate with @pN placeholders, may be empty
	Args      []any
	OrderBy   string // column name, may be empty
	ChunkSize int
	MaxRows   int64 // 0 = unlimited, emitted as TOP (n)
	// ResumeColumn, when set, lets a reconnected scan continue past the last
	// delivered value of that column instead of restarting from the top.
	// Leave empty for hash-strategy scans: their restarted duplicates are
	// absorbed by the merge engine.
	ResumeColumn string
}

// Scanner yields a finite, non-restartable stream of row chunks. On a
// transient connection failure mid-scan, the query is re-issued on a fresh
// pool connection, continuing the same logical cursor.
type Scanner struct {
	conn *Conn
	req  ScanRequest

	rows      *sql.Rows
	opened    bool
	done      bool
	delivered int64
	skip      int64 // rows to discard after a resume-less reconnect

	resumeIdx  int // position of ResumeColumn in the column list, -1 when absent
	lastResume rowval.Value
}

// Scan prepares a Scanner; the query runs on the first Next call.
func (c *Conn) Scan(req ScanRequest) *Scanner {
	s := &Scanner{conn: c, req: req, resumeIdx: -1}
	if req.ResumeColumn != "" {
		for i, col := range req.Spec.Columns {
			if strings.EqualFold(col.Name, req.ResumeColumn) {
				s.resumeIdx = i
				break
			}
		}
	}
	return s
}

// Next returns the next chunk of rows, or (nil, nil) at end of stream.
func (s *Scanner) Next(ctx context.Context) ([]rowval.Row, error) {
	if s.done {
		return nil, nil
	}

	var chunk []rowval.Row
	op := func() error {
		if !s.opened {
			if err := s.open(ctx); err != nil {
				return err
			}
		}
		rows, err := s.fetch(ctx)
		if err != nil {
			s.closeRows()
			s.opened = false
			if s.resumeIdx < 0 {
				// No watermark column to resume on: the restarted scan
				// re-reads from the top and discards what was delivered.
				s.skip = s.delivered
			}
			if dberr.IsTransient(err) {
				s.conn.logger.Warn().Err(err).
					Str("table", s.req.Spec.ID.String()).
					Int64("delivered", s.delivered).
					Msg("scan interrupted, reconnecting")
				return err
			}
			return backoff.Permanent(err)
		}
		chunk = rows
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(scanRetryWait), scanMaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		s.Close()
		return nil, fmt.Errorf("scan %s: %w", s.req.Spec.ID, err)
	}

	if len(chunk) == 0 {
		s.Close()
		return nil, nil
	}
	return chunk, nil
}

// open issues (or re-issues) the scan query. A reconnected scan with a resume
// column picks up strictly after the last delivered value.
func (s *Scanner) open(ctx context.Context) error {
	query, args := s.buildQuery()
	rows, err := s.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	s.rows = rows
	s.opened = true
	return nil
}

func (s *Scanner) buildQuery() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.req.MaxRows > 0 {
		fmt.Fprintf(&b, "TOP (%d) ", s.req.MaxRows)
	}
	for i, col := range s.req.Spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(QuoteIdent(col.Name))
	}
	fmt.Fprintf(&b, " FROM %s.%s", QuoteIdent(s.req.Spec.ID.Schema), QuoteIdent(s.req.Spec.ID.Name))

	args := append([]any(nil), s.req.Args...)
	conds := make([]string, 0, 2)
	if s.req.Where != "" {
		conds = append(conds, "("+s.req.Where+")")
	}
	if s.resumeIdx >= 0 && !s.lastResume.IsNull() {
		args = append(args, DriverArg(s.req.Spec.Columns[s.resumeIdx], s.lastResume))
		conds = append(conds, fmt.Sprintf("%s > @p%d", QuoteIdent(s.req.ResumeColumn), len(args)))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if s.req.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s ASC", QuoteIdent(s.req.OrderBy))
	}
	return b.String(), args
}

// fetch reads up to ChunkSize rows from the open cursor.
func (s *Scanner) fetch(ctx context.Context) ([]rowval.Row, error) {
	cols := s.req.Spec.Columns
	dest := make([]any, len(cols))
	holders := make([]any, len(cols))
	for i := range dest {
		dest[i] = &holders[i]
	}

	limit := s.req.ChunkSize
	if s.req.MaxRows > 0 {
		if remaining := s.req.MaxRows - s.delivered; remaining < int64(limit) {
			limit = int(remaining)
		}
	}
	if limit <= 0 {
		return nil, nil
	}

	for s.skip > 0 && s.rows.Next() {
		s.skip--
	}
	if s.skip > 0 {
		s.skip = 0
	}

	chunk := make([]rowval.Row, 0, limit)
	for len(chunk) < limit && s.rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(rowval.Row, len(cols))
		for i, col := range cols {
			row[i] = rowval.Convert(col, holders[i])
		}
		chunk = append(chunk, row)
	}
	if err := s.rows.Err(); err != nil {
		return nil, err
	}

	s.delivered += int64(len(chunk))
	if s.resumeIdx >= 0 && len(chunk) > 0 {
		s.lastResume = chunk[len(chunk)-1][s.resumeIdx]
	}
	return chunk, nil
}

// DriverArg renders a watermark value as a driver argument. Rowversion values
// compare as their 8-byte big-endian binary form.
func DriverArg(col schema.Column, v rowval.Value) any {
	switch v.Kind {
	case rowval.KindUint:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, v.Uint)
		return b
	case rowval.KindInt:
		return v.Int
	case rowval.KindTime:
		return v.Time
	case rowval.KindText:
		return v.Text
	case rowval.KindFloat:
		return v.Float
	default:
		return nil
	}
}

// Delivered returns how many rows the scanner has handed out.
func (s *Scanner) Delivered() int64 { return s.delivered }

func (s *Scanner) closeRows() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
}

// Close releases the cursor; subsequent Next calls return end of stream.
func (s *Scanner) Close() {
	s.closeRows()
	s.done = true
}

// QuoteIdent brackets an identifier for SQL Server, preserving case.
func QuoteIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

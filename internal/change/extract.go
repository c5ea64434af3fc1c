// Package change turns the name-status diff of the local mirror into typed
// change records.
package change

import (
	"bufio"
	"path"
	"strconv"
	"strings"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/model"
)

// ManifestName is the outline file every parse filter regenerates at the
// mirror root. It is never diffed.
const ManifestName = "__meta__.json"

// fullMatch is the rename similarity score at which content is unchanged.
const fullMatch = 100

// Extract parses lines of the form "<status>\t<path>[\t<path>]" as printed
// by `git diff --name-status -M`. Renames below a full match also yield a
// Modify for the new path.
func Extract(diff string) ([]model.ChangeRecord, error) {
	var records []model.ChangeRecord

	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		recs, err := parseLine(line)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrMalformedDiff, "line "+strconv.Itoa(lineNo), err)
		}
		records = append(records, recs...)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrMalformedDiff, "read diff", err)
	}

	return records, nil
}

func parseLine(line string) ([]model.ChangeRecord, error) {
	fields := strings.Split(line, "\t")
	status := fields[0]
	if status == "" || len(fields) < 2 || fields[1] == "" {
		return nil, apperr.Newf(apperr.ErrMalformedDiff, "expected status and path in %q", line)
	}

	switch status[0] {
	case 'A', 'M', 'D':
		if len(status) != 1 || len(fields) != 2 {
			return nil, apperr.Newf(apperr.ErrMalformedDiff, "unexpected fields in %q", line)
		}
		p := fields[1]
		if isManifest(p) {
			return nil, nil
		}
		return []model.ChangeRecord{{
			Operation:   statusOps[status[0]],
			ContentType: model.ContentTypeOf(p),
			Path:        p,
		}}, nil

	case 'R':
		score, err := strconv.Atoi(status[1:])
		if err != nil || score < 0 || score > fullMatch {
			return nil, apperr.Newf(apperr.ErrMalformedDiff, "bad rename score in %q", line)
		}
		if len(fields) != 3 || fields[2] == "" {
			return nil, apperr.Newf(apperr.ErrMalformedDiff, "rename without destination in %q", line)
		}
		from, to := fields[1], fields[2]
		if isManifest(from) || isManifest(to) {
			return nil, nil
		}
		recs := []model.ChangeRecord{{
			Operation:   model.OpMove,
			ContentType: model.ContentTypeOf(to),
			Path:        from,
			SecondPath:  to,
		}}
		if score < fullMatch {
			recs = append(recs, model.ChangeRecord{
				Operation:   model.OpModify,
				ContentType: model.ContentTypeOf(to),
				Path:        to,
			})
		}
		return recs, nil

	default:
		return nil, apperr.Newf(apperr.ErrMalformedDiff, "unknown status %q", status)
	}
}

var statusOps = map[byte]model.Operation{
	'A': model.OpAdd,
	'M': model.OpModify,
	'D': model.OpDelete,
}

func isManifest(p string) bool {
	return path.Base(p) == ManifestName
}

package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/atikulmunna/logscope/internal/model"
)

// AccessColumns is the header of the access-record CSV export.
var AccessColumns = []string{
	"ip", "time", "method", "path", "protocol", "status", "size", "referrer",
	"user_agent", "req_time", "proxy_chain", "server", "extension", "is_bot",
}

// ErrorColumns is the header of the error-record CSV export.
var ErrorColumns = []string{"time", "type", "message", "server"}

// WriteAccessCSV writes the records with a header row. Absent values are
// written as empty cells and times as RFC 3339.
func WriteAccessCSV(w io.Writer, recs []model.AccessRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AccessColumns); err != nil {
		return err
	}
	row := make([]string, len(AccessColumns))
	for i := range recs {
		r := &recs[i]
		row[0] = r.IP
		row[1] = ""
		if r.Time != nil {
			row[1] = r.Time.Format(time.RFC3339)
		}
		row[2] = r.Method
		row[3] = r.Path
		row[4] = r.Protocol
		row[5], row[6] = "", ""
		if r.Status != nil {
			row[5] = strconv.Itoa(*r.Status)
		}
		if r.Size != nil {
			row[6] = strconv.FormatInt(*r.Size, 10)
		}
		row[7] = r.Referrer
		row[8] = r.UserAgent
		row[9] = ""
		if r.ReqTime != nil {
			row[9] = *r.ReqTime
		}
		row[10] = r.ProxyChain
		row[11] = r.Server
		row[12] = r.Extension
		row[13] = strconv.FormatBool(r.IsBot)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing access row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteErrorCSV writes error records with a header row.
func WriteErrorCSV(w io.Writer, recs []model.ErrorRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ErrorColumns); err != nil {
		return err
	}
	for i, r := range recs {
		if err := cw.Write([]string{r.Time, r.Type, r.Message, r.Server}); err != nil {
			return fmt.Errorf("writing error row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

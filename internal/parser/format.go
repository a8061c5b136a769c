package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atikulmunna/logscope/internal/model"
)

// FormatAccess writes r back out as a canonical access line. Parsing the
// result yields the same field values; server and derived fields are not
// part of the line.
func FormatAccess(r model.AccessRecord) string {
	ts := model.NoValue
	if r.Time != nil {
		ts = r.Time.Format(TimeLayout)
	}

	request := model.NoValue
	if r.Method != "" || r.Path != "" || r.Protocol != "" {
		request = strings.Join([]string{r.Method, r.Path, r.Protocol}, " ")
	}

	status, size := model.NoValue, model.NoValue
	if r.Status != nil && r.Size != nil {
		status = strconv.Itoa(*r.Status)
		size = strconv.FormatInt(*r.Size, 10)
	}

	reqTime := model.NoValue
	if r.ReqTime != nil {
		reqTime = *r.ReqTime
	}

	return fmt.Sprintf(`%s - - [%s] "%s" %s %s "%s" "%s" %s "%s"`,
		r.IP, ts, request, status, size, r.Referrer, r.UserAgent, reqTime, r.ProxyChain)
}

package adapter

import (
	"net/http"
	"strings"
	"time"

	nativehttp "github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/abdul-hamid-achik/nativehttp/packages/urlsession"
)

// reservedHeaders are managed by the engine and never copied onto the
// native request.
var reservedHeaders = map[string]struct{}{
	"authorization":       {},
	"connection":          {},
	"host":                {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"www-authenticate":    {},
}

// IsReservedHeader reports whether name is dropped by buildNativeRequest.
func IsReservedHeader(name string) bool {
	_, ok := reservedHeaders[strings.ToLower(name)]
	return ok
}

// buildNativeRequest translates a prepared request. Header names are
// lower-cased, values are kept as given. The body is not copied; upload
// tasks carry it.
func buildNativeRequest(prep *nativehttp.PreparedRequest, timeout time.Duration) (*urlsession.URLRequest, error) {
	req, err := urlsession.NewRequest(prep.URL)
	if err != nil {
		return nil, err
	}
	req.Method = strings.ToUpper(prep.Method)
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.TimeoutInterval = timeout

	for name, values := range prep.Header {
		lower := strings.ToLower(name)
		if _, ok := reservedHeaders[lower]; ok {
			continue
		}
		for _, v := range values {
			req.AddValue(lower, v)
		}
	}
	return req, nil
}

// usesUploadTask reports whether the method's body is sent with an upload
// task.
func usesUploadTask(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPut, http.MethodPost:
		return true
	}
	return false
}

// Package fsurl parses filesystem URLs of the form
// scheme://[userinfo@]resource[?params].
package fsurl

import (
	"fmt"
	"net/url"
	"regexp"

	"emperror.dev/errors"
)

var fsurlRegexp = regexp.MustCompile(`^(?P<scheme>[a-z][a-z0-9+\-.]*)://((?P<userinfo>[^@/?#]*)@)?(?P<resource>[^?#]*)(\?(?P<params>.*))?$`)

type FSURL struct {
	Scheme   string
	Userinfo string
	Resource string
	Params   string
}

// IsURL reports whether str carries a filesystem URL scheme. Anything else
// is treated as a plain path by the callers.
func IsURL(str string) bool {
	return fsurlRegexp.MatchString(str)
}

func Parse(str string) (*FSURL, error) {
	u := &FSURL{}
	groupNames := fsurlRegexp.SubexpNames()
	matches := fsurlRegexp.FindStringSubmatch(str)
	if matches == nil {
		return nil, errors.Errorf("'%s' does not match regexp '%s'", str, fsurlRegexp.String())
	}
	for groupIdx, group := range matches {
		switch groupNames[groupIdx] {
		case "scheme":
			u.Scheme = group
		case "userinfo":
			u.Userinfo = group
		case "resource":
			u.Resource = group
		case "params":
			u.Params = group
		}
	}
	return u, nil
}

// Query returns the parsed parameter section.
func (u *FSURL) Query() (url.Values, error) {
	values, err := url.ParseQuery(u.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse params '%s'", u.Params)
	}
	return values, nil
}

func (u *FSURL) String() string {
	str := u.Scheme + "://"
	if u.Userinfo != "" {
		str += u.Userinfo + "@"
	}
	str += u.Resource
	if u.Params != "" {
		str += "?" + u.Params
	}
	return str
}

// Redacted renders the URL with credentials masked for logging.
func (u *FSURL) Redacted() string {
	if u.Userinfo == "" {
		return u.String()
	}
	return fmt.Sprintf("%s://***@%s", u.Scheme, u.Resource)
}

// conf/consts.go hard coded constants
package conf

const (
	FetchModeBounded = "bounded"
	FetchModePaged   = "paged"

	// YearAll selects every year
	YearAll = "all"
)

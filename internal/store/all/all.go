// Package all registers every store backend. Import it for side effects from
// binaries that select the backend at runtime via configuration.
package all

import (
	_ "github.com/blacksamuraiiii/xiyan-web/internal/store/mssql"
	_ "github.com/blacksamuraiiii/xiyan-web/internal/store/postgres"
	_ "github.com/blacksamuraiiii/xiyan-web/internal/store/sqlite"
)

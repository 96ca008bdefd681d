package sqlinfo

import (
	"sort"

	// database/sql drivers, one per dialect
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/snowflakedb/gosnowflake"
	_ "github.com/trinodb/trino-go-client/trino"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

func init() {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := dialects[name]
		provider.Register(provider.Info{
			Name:            d.Name,
			Description:     d.Description,
			ImplicitCatalog: d.ImplicitCatalog(),
		}, func(cfg config.SourceConfig, log *zap.Logger) (provider.Provider, error) {
			return New(cfg, log)
		})
	}
}

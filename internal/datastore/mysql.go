package datastore

import (
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/logger"
)

// MySQLStore implements Interface for MySQL.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// mysqlDSN builds the connection string for s.
func mysqlDSN(s *conf.MySQLSettings) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, s.Port)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects and migrates the schema.
func (store *MySQLStore) Open() error {
	settings := &store.Settings.Datastore.MySQL
	db, err := gorm.Open(mysql.Open(mysqlDSN(settings)), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", settings.Host),
			logger.String("port", settings.Port),
			logger.String("database", settings.Database),
			logger.Error(err))
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component(componentName).
			Context("host", settings.Host).
			Context("database", settings.Database).
			Build()
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Main.Debug, "MySQL", settings.Host+"/"+settings.Database)
}

// Close closes the connection pool.
func (store *MySQLStore) Close() error {
	return store.closeDB()
}

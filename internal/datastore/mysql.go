package datastore

import (
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/logger"
)

// MySQLStore implements DataStore for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	cfg := settings.Output.MySQL
	switch {
	case cfg.Host == "":
		return validationError("mysql host is required", "output.mysql.host")
	case cfg.Database == "":
		return validationError("mysql database is required", "output.mysql.database")
	case cfg.Username == "":
		return validationError("mysql username is required", "output.mysql.username")
	}
	return nil
}

// mysqlDSN renders the connection string with the driver's own formatter.
func mysqlDSN(settings *conf.MySQLSettings) string {
	port := settings.Port
	if port == "" {
		port = "3306"
	}
	cfg := mysql.NewConfig()
	cfg.User = settings.Username
	cfg.Passwd = settings.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(settings.Host, port)
	cfg.DBName = settings.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and migrates the schema.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	settings := &store.Settings.Output.MySQL
	db, err := gorm.Open(gormmysql.Open(mysqlDSN(settings)), &gorm.Config{
		Logger:         createGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", settings.Host),
			logger.String("port", settings.Port),
			logger.String("database", settings.Database),
			logger.Error(err))
		return dbError(err, "open", "driver", "mysql", "host", settings.Host)
	}

	store.DB = db
	if err := performAutoMigration(db, store.Settings.Debug, "MySQL"); err != nil {
		return err
	}

	GetLogger().Info("database opened",
		logger.String("driver", "mysql"),
		logger.String("host", settings.Host),
		logger.String("database", settings.Database))
	return nil
}

// Close releases the connection pool.
func (store *MySQLStore) Close() error {
	return closeDB(store.DB)
}

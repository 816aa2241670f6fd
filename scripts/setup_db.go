package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"

	"church-recruit-backend/pkg/database"

	_ "github.com/lib/pq"
)

func main() {
	// 从环境变量或命令行参数获取数据库连接字符串
	dsn := os.Getenv("POSTGRES_DSN")
	if len(os.Args) > 1 {
		dsn = os.Args[1]
	}
	if dsn == "" {
		log.Fatal("❌ POSTGRES_DSN is not set (usage: go run scripts/setup_db.go <dsn>)")
	}

	fmt.Printf("🔗 Connecting to database: %s\n", maskPassword(dsn))

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("❌ Failed to ping database: %v", err)
	}
	fmt.Println("✅ Database connection successful")

	fmt.Println("📄 Applying migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ %v", err)
	}

	version, dirty, err := database.MigrationVersion(db)
	if err != nil {
		log.Fatalf("❌ Failed to read migration version: %v", err)
	}
	fmt.Printf("✅ Schema at version %d (dirty=%t)\n", version, dirty)

	fmt.Println("🔍 Verifying tables...")
	for _, table := range []string{"recruitments", "applications", "users"} {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			log.Printf("⚠️  Warning: Failed to query table %s: %v", table, err)
			continue
		}
		fmt.Printf("✅ Table %s: %d records\n", table, count)
	}

	fmt.Println("🎉 Database setup completed!")
}

// maskPassword 隐藏连接字符串中的密码
func maskPassword(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

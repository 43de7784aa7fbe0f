package db

import (
	"log"

	"github.com/suPer8Hu/gopherchat-stream/internal/models"
	"github.com/suPer8Hu/gopherchat-stream/internal/stream"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	if err := gdb.AutoMigrate(
		&models.User{},
		&stream.Conversation{},
		&stream.StreamJob{},
		&stream.ChatMessage{},
	); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}

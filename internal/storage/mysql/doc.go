// Package mysql persists bot configuration records and swap jobs in MySQL.
// Schema migrations are embedded from deploy/migrations and applied on start
// when auto_migrate is enabled.
package mysql

// Package mysql provides the MySQL connection helpers, embedded schema
// migrations and the routing decision repositories.
package mysql

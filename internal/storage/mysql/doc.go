// Package mysql persists committed protocol events for query and external
// indexing. It ships a MySQL repository with embedded schema migrations and a
// file-backed repository for single-node deployments.
package mysql

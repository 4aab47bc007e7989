// Package repository provides a generic repository abstraction built on Bun
// for CRUD operations, filtered listing and pagination.
package repository

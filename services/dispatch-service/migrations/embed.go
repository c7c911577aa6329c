// Package migrations содержит goose-миграции схемы сервиса диспетчеризации
package migrations

import "embed"

// FS миграции, встроенные в бинарник
//
//go:embed *.sql
var FS embed.FS

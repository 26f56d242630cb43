// Package storage — общие утилиты локального хранилища: подготовка каталога под файл
// базы и права доступа к нему. Backend'ы учётных данных лежат в подпакетах.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFilePerm — права на файлы с чувствительными данными: только владелец процесса.
const DefaultFilePerm os.FileMode = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

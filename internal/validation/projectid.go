// Package validation содержит функции валидации входных данных.
package validation

// projectIDLength — длина идентификатора проекта в каталоге.
const projectIDLength = 8

// IsValidProjectID проверяет формат идентификатора проекта:
// ровно восемь цифр ASCII, первая цифра не ноль.
func IsValidProjectID(id string) bool {
	if len(id) != projectIDLength {
		return false
	}

	if id[0] == '0' {
		return false
	}

	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}

	return true
}

// redact предоставляет утилиты безопасного вывода чувствительных данных
// в логи: e-mail маскируется, токен заменяется коротким отпечатком, по
// которому можно сопоставить записи, не раскрывая сам секрет.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Email маскирует e-mail для логирования.
//
// Правила:
//   - строка должна содержать РОВНО один символ '@', иначе возвращается "***";
//   - локальная часть заменяется на первые два символа (по рунам) + "***";
//   - если длина локальной части ≤ 2 символов - возвращается "***@<domain>";
//   - доменная часть возвращается без изменений.
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token возвращает отпечаток токена: "tok:" + первые 8 hex-символов sha256.
// Пустой токен - "tok:none".
func Token(s string) string {
	if s == "" {
		return "tok:none"
	}

	sum := sha256.Sum256([]byte(s))
	return "tok:" + hex.EncodeToString(sum[:4])
}

package transport

import "strings"

// 路由键语法：以 "/" 分段，分段不可为空；"*" 匹配单个分段，"**" 匹配零个或多个分段。
// 通配只能占据整个分段。

// ValidateKey 校验路由键
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return ErrInvalidKey
	}
	for _, chunk := range strings.Split(key, "/") {
		if chunk == "" {
			return ErrInvalidKey
		}
		if strings.ContainsAny(chunk, "*") && chunk != "*" && chunk != "**" {
			return ErrInvalidKey
		}
		if strings.ContainsAny(chunk, " \t\r\n#?$") {
			return ErrInvalidKey
		}
	}
	return nil
}

// HasWildcard 路由键是否含通配分段
func HasWildcard(key string) bool {
	for _, chunk := range strings.Split(key, "/") {
		if chunk == "*" || chunk == "**" {
			return true
		}
	}
	return false
}

// Match 判断 key 是否匹配 pattern；两者都可以是合法路由键
func Match(pattern, key string) bool {
	if pattern == key {
		return true
	}
	return matchChunks(strings.Split(pattern, "/"), strings.Split(key, "/"))
}

func matchChunks(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchChunks(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != "*" && head != key[0] {
			return false
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}

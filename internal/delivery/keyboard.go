package delivery

// Rows of the Arabic 101 and QWERTY layouts. '_' holds a column where a key
// has no letter so the rows stay aligned.
var keyboardRows = [][]string{
	{
		"ضصثقفغعهخحجد",
		"شسيبلاتنمكط",
		"ئءؤر_ىةوزظ",
	},
	{
		"qwertyuiop",
		"asdfghjkl",
		"zxcvbnm",
	},
}

// neighbors maps a key to the keys physically adjacent to it.
var neighbors = buildNeighbors(keyboardRows)

func buildNeighbors(layouts [][]string) map[rune][]rune {
	adj := make(map[rune][]rune)
	for _, layout := range layouts {
		grid := make([][]rune, len(layout))
		for i, row := range layout {
			grid[i] = []rune(row)
		}

		at := func(r, c int) (rune, bool) {
			if r < 0 || r >= len(grid) || c < 0 || c >= len(grid[r]) {
				return 0, false
			}
			k := grid[r][c]
			return k, k != '_'
		}

		for r, row := range grid {
			for c, key := range row {
				if key == '_' {
					continue
				}
				offsets := [][2]int{{r, c - 1}, {r, c + 1}, {r - 1, c}, {r - 1, c + 1}, {r + 1, c - 1}, {r + 1, c}}
				for _, o := range offsets {
					if n, ok := at(o[0], o[1]); ok {
						adj[key] = append(adj[key], n)
					}
				}
			}
		}
	}
	return adj
}

// Neighbors returns the keys adjacent to r, or nil when r is not on a known layout.
func Neighbors(r rune) []rune {
	return neighbors[r]
}

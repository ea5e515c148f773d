package validation

const (
	MinWorldSize      = 20
	MaxWorldSize      = 65535
	MinTicksPerSecond = 1
	MaxTicksPerSecond = 255
	MinFoodRate       = 2
	MaxFoodRate       = 255
	MaxPlayers        = 65535
	MaxDirection      = 3
	MaxFoodValue      = 255
)

func IsValidWorldSize(width, height int) bool {
	return width >= MinWorldSize && width <= MaxWorldSize &&
		height >= MinWorldSize && height <= MaxWorldSize
}

func IsValidTicksPerSecond(tps int) bool {
	return tps >= MinTicksPerSecond && tps <= MaxTicksPerSecond
}

func IsValidFoodRate(rate int) bool {
	return rate >= MinFoodRate && rate <= MaxFoodRate
}

// IsValidFoodValue reports whether a food item fits its one-byte wire field.
func IsValidFoodValue(v int) bool {
	return v >= 1 && v <= MaxFoodValue
}

func IsValidMaxPlayers(n int) bool {
	return n >= 0 && n <= MaxPlayers
}

func IsValidDirection(b uint8) bool {
	return b <= MaxDirection
}

func IsValidCoordinate(x, y, width, height int) bool {
	return x >= 0 && x < width && y >= 0 && y < height
}

func IsValidPort(port int) bool {
	return port > 0 && port <= 65535
}

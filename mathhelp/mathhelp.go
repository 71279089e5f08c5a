package mathhelp

func Pow2(n uint) uint {
	return 1 << n
}

func CeilDiv(d, m uint) uint {
	return (d + m - 1) / m
}

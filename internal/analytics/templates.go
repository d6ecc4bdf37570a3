package analytics

// Downloadable example files.
var templates = map[string]string{
	"orders": "Sale Date,Item Name,Item Price,Quantity,Cost,Category\n" +
		"11/01/2024,Blue bead bracelet,25.00,1,8.50,Bracelets\n" +
		"11/02/2024,Gold earrings,18.50,2,5.00,Earrings\n" +
		"11/03/2024,Silver necklace,45.00,1,15.00,Necklaces\n",
	"costs": "Product,Cost\n" +
		"Blue bead bracelet,8.50\n" +
		"Gold earrings,5.00\n" +
		"Silver necklace,15.00\n",
}

// TemplateCSV returns an example file by name.
func TemplateCSV(name string) ([]byte, bool) {
	s, ok := templates[name]
	return []byte(s), ok
}

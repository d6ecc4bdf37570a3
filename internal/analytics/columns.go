package analytics

// Canonical column names.
const (
	ColDate        = "Date"
	ColProduct     = "Product"
	ColPrice       = "Price"
	ColQuantity    = "Quantity"
	ColCost        = "Cost"
	ColShipping    = "Shipping"
	ColCategory    = "Category"
	ColBuyer       = "Buyer"
	ColOrderID     = "OrderID"
	ColTitle       = "Title"
	ColDescription = "Description"
	ColTags        = "Tags"
	ColImages      = "Images"
	ColMaterials   = "Materials"
	ColType        = "Type"
	ColFees        = "Fees"
)

// Synonym maps export column variants onto one canonical name.
type Synonym struct {
	Canonical string
	Aliases   []string
}

// salesSynonyms covers the Etsy "Order Items" export in English and
// French plus the hand-made variants sellers upload.
var salesSynonyms = []Synonym{
	{ColDate, []string{"Sale Date", "Order Date", "date", "order_date", "Date Paid", "Date de vente", "Date de commande"}},
	{ColProduct, []string{"Item Name", "item_name", "product", "Title", "Nom de l'article"}},
	{ColPrice, []string{"Item Price", "item_price", "price", "Valeur de la commande", "Total de la commande", "Prix de l'article"}},
	{ColQuantity, []string{"quantity", "qty", "Qty", "Nombre d'articles", "Quantité"}},
	{ColCost, []string{"cost", "Cout", "Coût"}},
	{ColShipping, []string{"Shipping Price", "shipping_price", "Order Shipping", "Frais de livraison"}},
	{ColCategory, []string{"category", "Catégorie", "Categorie"}},
	{ColBuyer, []string{"Buyer", "Buyer User ID", "Buyer Username", "Ship Name", "Full Name", "Customer", "customer", "Acheteur", "Nom de l'acheteur"}},
	{ColOrderID, []string{"Order ID", "order_id", "Order Number", "N° de commande", "Numéro de commande"}},
}

// listingSynonyms covers the Etsy listings export (upper-case headers).
var listingSynonyms = []Synonym{
	{ColTitle, []string{"TITLE", "title", "Titre", "Item Name"}},
	{ColDescription, []string{"DESCRIPTION", "description"}},
	{ColPrice, []string{"PRICE", "price", "Prix"}},
	{ColTags, []string{"TAGS", "tags", "Mots-clés", "Mots clés"}},
	{ColImages, []string{"IMAGES", "images", "Photos", "Image Count"}},
	{ColMaterials, []string{"MATERIALS", "materials", "Matériaux"}},
	{ColCategory, []string{"CATEGORY", "category", "Catégorie"}},
}

// costSynonyms covers the (Product, Cost) override file.
var costSynonyms = []Synonym{
	{ColProduct, []string{"product", "Item Name", "Produit", "Title"}},
	{ColCost, []string{"cost", "Cout", "Coût", "Unit Cost"}},
}

// statementSynonyms covers the monthly statement (EN and FR).
var statementSynonyms = []Synonym{
	{ColDate, []string{"date"}},
	{ColType, []string{"type"}},
	{ColFees, []string{"Frais Et Taxes", "Frais et taxes", "Fees & Taxes", "Fees and Taxes", "Fees"}},
}

var (
	salesRequired     = []string{ColDate, ColProduct, ColPrice}
	listingRequired   = []string{ColTitle, ColPrice}
	costRequired      = []string{ColProduct, ColCost}
	statementRequired = []string{ColType, ColFees}
)

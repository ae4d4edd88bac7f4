package elasticsearch

// BooksMapping возвращает маппинг индекса книг для Elasticsearch.
// Поля: id (keyword), name/author (text + keyword subfield), description (text), price (double), publish_date (date).
func BooksMapping() map[string]interface{} {
	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id": map[string]interface{}{"type": "keyword"},
				"name": map[string]interface{}{
					"type": "text",
					"fields": map[string]interface{}{
						"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256},
					},
				},
				"author": map[string]interface{}{
					"type": "text",
					"fields": map[string]interface{}{
						"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256},
					},
				},
				"description":  map[string]interface{}{"type": "text"},
				"price":        map[string]interface{}{"type": "double"},
				"publish_date": map[string]interface{}{"type": "date", "format": "strict_date_optional_time||yyyy-MM-dd"},
			},
		},
	}
}

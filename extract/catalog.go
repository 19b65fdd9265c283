// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import "github.com/poiesic/finpipe/core"

// DefaultCatalog returns the built-in source catalog: the Paraguayan market
// and government portals the pipeline ingests. Descriptors are value copies;
// callers may filter or modify their slice freely.
func DefaultCatalog() []core.SourceDescriptor {
	return []core.SourceDescriptor{
		{
			SourceID:    "bva-emisores",
			Locator:     "https://www.bolsadevalores.com.py/listado-de-emisores/",
			Category:    "Balances de Empresas",
			ContentType: core.ContentTypeText,
			TargetTable: "resumen_informe_financiero",
		},
		{
			SourceID:    "bva-informes-diarios",
			Locator:     "https://www.bolsadevalores.com.py/informes-diarios/",
			Category:    "Movimientos Diarios",
			ContentType: core.ContentTypeJSON,
			TargetTable: "movimiento_diario_bolsa",
		},
		{
			SourceID:    "bva-informes-mensuales",
			Locator:     "https://www.bolsadevalores.com.py/informes-mensuales/",
			Category:    "Volumen Mensual",
			ContentType: core.ContentTypeText,
			TargetTable: "informe_general",
		},
		{
			SourceID:    "bva-informes-anuales",
			Locator:     "https://www.bolsadevalores.com.py/informes-anuales/",
			Category:    "Resumen Anual",
			ContentType: core.ContentTypeText,
			TargetTable: "informe_general",
		},
		{
			SourceID:    "bcp-macroeconomia",
			Locator:     "https://www.bcp.gov.py/",
			Category:    "Contexto Macroeconómico",
			ContentType: core.ContentTypeText,
			TargetTable: "dato_macroeconomico",
		},
		{
			SourceID:    "ine-publicaciones",
			Locator:     "https://www.ine.gov.py/vt/publicacion.php/",
			Category:    "Estadísticas Sociales",
			ContentType: core.ContentTypeText,
			TargetTable: "dato_macroeconomico",
		},
		{
			SourceID:    "dncp-contrataciones",
			Locator:     "https://www.contrataciones.gov.py/",
			Category:    "Contratos Públicos",
			ContentType: core.ContentTypeJSON,
			TargetTable: "licitacion_contrato",
		},
		{
			SourceID:    "dnit-invertir",
			Locator:     "https://www.dnit.gov.py/web/portal-institucional/invertir-en-py",
			Category:    "Datos de Inversión",
			ContentType: core.ContentTypeText,
			TargetTable: "noticia_relevante",
		},
		{
			SourceID:    "dnit-informes-financieros",
			Locator:     "https://www.dnit.gov.py/web/portal-institucional/informes-financieros",
			Category:    "Informes Financieros (DNIT)",
			ContentType: core.ContentTypeText,
			TargetTable: "informe_general",
		},
	}
}

// SourcesByCategory filters a catalog by category.
func SourcesByCategory(sources []core.SourceDescriptor, category string) []core.SourceDescriptor {
	var out []core.SourceDescriptor
	for _, src := range sources {
		if src.Category == category {
			out = append(out, src)
		}
	}
	return out
}

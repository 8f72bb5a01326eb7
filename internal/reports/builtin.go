package reports

const builtinCatalog = `
categories:
  - id: traffic
    name: Traffic acquisition
    description: Where sessions come from.
    reports:
      - id: sessions_by_source
        name: Sessions by source / medium
        query: |
          SELECT
            traffic_source.source AS source,
            traffic_source.medium AS medium,
            COUNT(DISTINCT CONCAT(user_pseudo_id, CAST((SELECT value.int_value FROM UNNEST(event_params) WHERE key = 'ga_session_id') AS STRING))) AS sessions
          FROM {{.Table}}
          WHERE _TABLE_SUFFIX BETWEEN FORMAT_DATE('%Y%m%d', DATE_SUB(CURRENT_DATE(), INTERVAL 28 DAY))
            AND FORMAT_DATE('%Y%m%d', CURRENT_DATE())
          GROUP BY source, medium
          ORDER BY sessions DESC
          LIMIT 50
      - id: daily_users
        name: Daily active users
        query: |
          SELECT
            PARSE_DATE('%Y%m%d', event_date) AS day,
            COUNT(DISTINCT user_pseudo_id) AS users
          FROM {{.Table}}
          WHERE _TABLE_SUFFIX BETWEEN FORMAT_DATE('%Y%m%d', DATE_SUB(CURRENT_DATE(), INTERVAL 28 DAY))
            AND FORMAT_DATE('%Y%m%d', CURRENT_DATE())
          GROUP BY day
          ORDER BY day
  - id: engagement
    name: Engagement
    description: What users do once they arrive.
    reports:
      - id: top_pages
        name: Top pages
        query: |
          SELECT
            (SELECT value.string_value FROM UNNEST(event_params) WHERE key = 'page_location') AS page,
            COUNT(*) AS views
          FROM {{.Table}}
          WHERE event_name = 'page_view'
            AND _TABLE_SUFFIX BETWEEN FORMAT_DATE('%Y%m%d', DATE_SUB(CURRENT_DATE(), INTERVAL 28 DAY))
            AND FORMAT_DATE('%Y%m%d', CURRENT_DATE())
          GROUP BY page
          ORDER BY views DESC
          LIMIT 50
      - id: events
        name: Event counts
        query: |
          SELECT event_name, COUNT(*) AS events
          FROM {{.Table}}
          WHERE _TABLE_SUFFIX BETWEEN FORMAT_DATE('%Y%m%d', DATE_SUB(CURRENT_DATE(), INTERVAL 28 DAY))
            AND FORMAT_DATE('%Y%m%d', CURRENT_DATE())
          GROUP BY event_name
          ORDER BY events DESC
  - id: ecommerce
    name: Ecommerce
    description: Purchases and revenue.
    reports:
      - id: revenue_by_day
        name: Revenue by day
        query: |
          SELECT
            PARSE_DATE('%Y%m%d', event_date) AS day,
            SUM(ecommerce.purchase_revenue) AS revenue,
            COUNT(DISTINCT ecommerce.transaction_id) AS transactions
          FROM {{.Table}}
          WHERE event_name = 'purchase'
            AND _TABLE_SUFFIX BETWEEN FORMAT_DATE('%Y%m%d', DATE_SUB(CURRENT_DATE(), INTERVAL 28 DAY))
            AND FORMAT_DATE('%Y%m%d', CURRENT_DATE())
          GROUP BY day
          ORDER BY day
`
